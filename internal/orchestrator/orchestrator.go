// Package orchestrator drives the per-service lifecycle.
//
// One goroutine (Run) owns the registry and every state transition. Watcher
// events, debounce expiries and executor results are all delivered to it as
// messages, so no other goroutine ever mutates service state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/debounce"
	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/executor"
	"github.com/MrSnakeDoc/stackwatch/internal/index"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	"github.com/MrSnakeDoc/stackwatch/internal/metrics"
	"github.com/MrSnakeDoc/stackwatch/internal/registry"
	"github.com/MrSnakeDoc/stackwatch/internal/watcher"
)

const (
	// DefaultShutdownGrace bounds how long shutdown waits for running actions.
	DefaultShutdownGrace = 30 * time.Second
	// maxBatch caps how many queued watcher events are handled as one batch.
	maxBatch = 256
	// channelBuffer sizes the due and result queues.
	channelBuffer = 64
)

// ErrSourceClosed is returned by Run when the change detector stops on its
// own, before shutdown was requested.
var ErrSourceClosed = errors.New("change detector stopped")

// Source is the change detector.
type Source interface {
	Events() <-chan domain.Event
	Stop()
}

// StatusSink receives service snapshots outside the event loop. It must not
// block.
type StatusSink interface {
	Publish(snap domain.Snapshot) bool
	Delete(name string) bool
}

type Options struct {
	BasePath      string
	Window        time.Duration
	Workers       int
	ShutdownGrace time.Duration

	Runner executor.Runner
	Source Source

	// Optional.
	Index    *index.MemoryIndex
	Status   StatusSink
	Recorder metrics.Recorder
}

type Orchestrator struct {
	basePath string
	grace    time.Duration

	source Source
	reg    *registry.Registry
	sched  *debounce.Scheduler
	exec   *executor.Executor
	index  *index.MemoryIndex
	status StatusSink
	rec    metrics.Recorder
	logger logger.Logger

	dueCh    chan string
	resultCh chan domain.Result
	ready    chan struct{}
	quit     chan struct{}

	// loop-owned bookkeeping
	outstanding map[string]int    // submitted actions without a result yet
	revive      map[string]string // name -> path, re-added while stopping
}

func New(opts Options, log logger.Logger) *Orchestrator {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Index == nil {
		opts.Index = index.NewMemoryIndex()
	}

	o := &Orchestrator{
		basePath:    opts.BasePath,
		grace:       opts.ShutdownGrace,
		source:      opts.Source,
		reg:         registry.New(),
		index:       opts.Index,
		status:      opts.Status,
		rec:         opts.Recorder,
		logger:      log,
		dueCh:       make(chan string, channelBuffer),
		resultCh:    make(chan domain.Result, channelBuffer),
		ready:       make(chan struct{}),
		quit:        make(chan struct{}),
		outstanding: make(map[string]int),
		revive:      make(map[string]string),
	}
	o.sched = debounce.New(opts.Window, o.deliverDue, log.Named("debounce"))
	o.exec = executor.New(opts.Runner, executor.Options{
		Workers:  opts.Workers,
		Notify:   o.deliverResult,
		Recorder: opts.Recorder,
	}, log.Named("executor"))
	return o
}

// Ready is closed once startup reconciliation has been issued.
func (o *Orchestrator) Ready() <-chan struct{} { return o.ready }

// Index exposes the status snapshots kept up to date by the loop.
func (o *Orchestrator) Index() *index.MemoryIndex { return o.index }

// InFlight reports the number of running compose invocations.
func (o *Orchestrator) InFlight() int { return o.exec.InFlight() }

func (o *Orchestrator) deliverDue(name string) {
	select {
	case o.dueCh <- name:
	case <-o.quit:
	}
}

func (o *Orchestrator) deliverResult(res domain.Result) {
	select {
	case o.resultCh <- res:
	case <-o.quit:
	}
}

// Run reconciles existing services, then processes events until ctx is
// done. It returns after the shutdown sequence completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.quit)

	if err := o.reconcile(); err != nil {
		o.shutdown()
		return err
	}
	close(o.ready)

	events := o.source.Events()
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil

		case ev, ok := <-events:
			if !ok {
				o.shutdown()
				if ctx.Err() != nil {
					// the detector closes its stream on cancellation too
					return nil
				}
				o.logger.Error("Change detector stopped unexpectedly")
				return ErrSourceClosed
			}
			o.handleBatch(ev, events)

		case name := <-o.dueCh:
			o.handleDue(name)

		case res := <-o.resultCh:
			o.handleResult(res)
		}
	}
}

// reconcile registers every service directory present at startup and
// brings each one up exactly once.
func (o *Orchestrator) reconcile() error {
	dirs, err := watcher.ListServices(o.basePath)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	o.logger.Info("Reconciling existing services", logger.Int("count", len(dirs)))
	for _, d := range dirs {
		o.start(d.Name, d.Path)
	}
	return nil
}

// handleBatch processes first plus whatever is already queued, then arms
// the debounce timers of all changed services under one lock.
func (o *Orchestrator) handleBatch(first domain.Event, events <-chan domain.Event) {
	var changed []string
	pending := make(map[string]bool)

	handle := func(ev domain.Event) {
		o.rec.IncEvent(ev.Kind.String())
		switch ev.Kind {
		case domain.ServiceAdded:
			o.handleAdded(ev)
		case domain.ServiceChanged:
			if o.handleChanged(ev) && !pending[ev.Service] {
				pending[ev.Service] = true
				changed = append(changed, ev.Service)
			}
		case domain.ServiceRemoved:
			if pending[ev.Service] {
				delete(pending, ev.Service)
				changed = removeName(changed, ev.Service)
			}
			o.handleRemoved(ev)
		}
	}

	handle(first)
drain:
	for i := 1; i < maxBatch; i++ {
		select {
		case ev, ok := <-events:
			if !ok {
				break drain
			}
			handle(ev)
		default:
			break drain
		}
	}

	if len(changed) == 0 {
		return
	}
	for n := o.sched.OnChangeBatch(changed); n > 0; n-- {
		o.rec.IncCoalesced()
	}
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func (o *Orchestrator) handleAdded(ev domain.Event) {
	svc, ok := o.reg.Get(ev.Service)
	if !ok {
		o.start(ev.Service, ev.Path)
		return
	}
	if svc.State == domain.StateStopping {
		o.revive[ev.Service] = ev.Path
		o.logger.Info("Service re-added while stopping, will start after teardown",
			logger.String("service", ev.Service))
		return
	}
	o.logger.Debug("Service already managed, ignoring add",
		logger.String("service", ev.Service),
		logger.String("state", svc.State.String()))
}

// start registers name and submits its initial up.
func (o *Orchestrator) start(name, path string) {
	svc, _ := o.reg.Upsert(name, path)
	next, err := domain.Transition(svc.State, domain.TriggerStart)
	if err != nil {
		o.logger.Warn("Cannot start service", logger.String("service", name), logger.Error(err))
		return
	}
	o.setState(svc, next)
	o.submit(svc, domain.ActionUp)
	o.logger.Info("Service discovered", logger.String("service", name), logger.String("path", path))
	o.publish(svc)
}

// handleChanged reports whether the service's debounce timer must be armed.
func (o *Orchestrator) handleChanged(ev domain.Event) bool {
	svc, ok := o.reg.Get(ev.Service)
	if !ok {
		o.logger.Debug("Change for unknown service, ignoring", logger.String("service", ev.Service))
		return false
	}
	next, err := domain.Transition(svc.State, domain.TriggerChanged)
	if err != nil {
		o.logger.Debug("Ignoring change", logger.String("service", svc.Name), logger.Error(err))
		return false
	}
	svc.ChangeCount++
	o.setState(svc, next)
	o.logger.Debug("Change detected",
		logger.String("service", svc.Name),
		logger.String("path", ev.Path),
		logger.Int("changes", svc.ChangeCount))
	o.publish(svc)
	return next != domain.StateStopping && next != domain.StateDiscovered
}

func (o *Orchestrator) handleDue(name string) {
	svc, ok := o.reg.Get(name)
	if !ok {
		o.logger.Debug("Restart due for unknown service, dropping", logger.String("service", name))
		return
	}
	next, err := domain.Transition(svc.State, domain.TriggerDue)
	if err != nil {
		o.logger.Debug("Dropping stale restart", logger.String("service", name), logger.Error(err))
		return
	}
	if next != domain.StateRestarting {
		return
	}
	o.logger.Info("Restarting service",
		logger.String("service", name),
		logger.Int("changes", svc.ChangeCount))
	svc.ChangeCount = 0
	o.setState(svc, next)
	o.submit(svc, domain.ActionRestart)
	o.publish(svc)
}

func (o *Orchestrator) handleRemoved(ev domain.Event) {
	delete(o.revive, ev.Service)
	svc, ok := o.reg.Get(ev.Service)
	if !ok {
		return
	}
	if o.sched.OnCancel(svc.Name) {
		o.logger.Debug("Cancelled pending restart", logger.String("service", svc.Name))
	}
	if svc.State == domain.StateStopping {
		return
	}
	next, err := domain.Transition(svc.State, domain.TriggerRemoved)
	if err != nil {
		o.logger.Warn("Cannot remove service", logger.String("service", svc.Name), logger.Error(err))
		return
	}
	o.logger.Info("Service removed, stopping", logger.String("service", svc.Name))
	o.setState(svc, next)
	if !o.submit(svc, domain.ActionDown) {
		o.erase(svc.Name)
		return
	}
	o.publish(svc)
}

func (o *Orchestrator) handleResult(res domain.Result) {
	svc, ok := o.reg.Get(res.Service)
	if !ok {
		o.logger.Warn("Result for unknown service, dropping",
			logger.String("service", res.Service),
			logger.String("action", res.Action.String()))
		return
	}

	if n := o.outstanding[svc.Name] - 1; n > 0 {
		o.outstanding[svc.Name] = n
	} else {
		delete(o.outstanding, svc.Name)
	}
	_ = o.reg.SetResult(svc.Name, res)
	o.logResult(res)

	if o.outstanding[svc.Name] > 0 {
		// another action for this service is already queued
		o.publish(svc)
		return
	}

	trigger := domain.TriggerSucceeded
	if !res.OK() {
		trigger = domain.TriggerFailed
	}
	next, err := domain.Transition(svc.State, trigger)
	if err != nil {
		o.logger.Warn("Unexpected result", logger.String("service", svc.Name), logger.Error(err))
		o.publish(svc)
		return
	}
	o.setState(svc, next)

	if next == domain.StateRemoved {
		o.erase(svc.Name)
		if path, ok := o.revive[svc.Name]; ok {
			delete(o.revive, svc.Name)
			o.start(svc.Name, path)
		}
		return
	}

	// Changes that arrived while the action ran are not restarted yet. The
	// timer may already have fired with its due still queued, so the count
	// is what decides, not whether the timer is armed.
	if svc.ChangeCount > 0 {
		if pending, err := domain.Transition(next, domain.TriggerChanged); err == nil {
			o.setState(svc, pending)
		}
	}
	o.publish(svc)
}

func (o *Orchestrator) logResult(res domain.Result) {
	fields := []logger.Field{
		logger.String("service", res.Service),
		logger.String("action", res.Action.String()),
		logger.String("action_id", res.ID),
		logger.Duration("took", res.Duration()),
	}
	switch {
	case res.OK():
		o.logger.Info("Action completed", fields...)
	case errors.Is(res.Err, domain.ErrMissingProjectDefinition):
		o.logger.Warn("No compose file, skipping until next change", append(fields, logger.Error(res.Err))...)
	default:
		o.logger.Error("Action failed", append(fields,
			logger.Int("exit_code", res.ExitCode),
			logger.Error(res.Err))...)
	}
}

// submit hands an action to the executor and tracks it as outstanding.
func (o *Orchestrator) submit(svc *domain.Service, action domain.Action) bool {
	superseded, err := o.exec.Submit(executor.Request{Service: svc.Name, Path: svc.Path, Action: action})
	if err != nil {
		o.logger.Warn("Action not submitted",
			logger.String("service", svc.Name),
			logger.String("action", action.String()),
			logger.Error(err))
		return false
	}
	o.outstanding[svc.Name]++
	if superseded {
		// the replaced follow-up will never report
		o.outstanding[svc.Name]--
	}
	return true
}

func (o *Orchestrator) setState(svc *domain.Service, next domain.State) {
	if svc.State == next {
		return
	}
	o.logger.Debug("State transition",
		logger.String("service", svc.Name),
		logger.String("from", svc.State.String()),
		logger.String("to", next.String()))
	_ = o.reg.SetState(svc.Name, next)
}

func (o *Orchestrator) erase(name string) {
	o.reg.Remove(name)
	delete(o.outstanding, name)
	o.index.DeleteService(name)
	if o.status != nil {
		o.status.Delete(name)
	}
	o.rec.SetServices(o.reg.CountByState())
	o.logger.Info("Service erased", logger.String("service", name))
}

func (o *Orchestrator) publish(svc *domain.Service) {
	snap := svc.Snapshot()
	o.index.AddService(snap)
	if o.status != nil {
		o.status.Publish(snap)
	}
	o.rec.SetServices(o.reg.CountByState())
}

// shutdown stops detection, cancels timers, then waits for running actions
// up to the grace period before aborting them. Results that arrive in the
// meantime are still recorded.
func (o *Orchestrator) shutdown() {
	o.logger.Info("Shutting down orchestrator", logger.Int("in_flight", o.exec.InFlight()))

	o.source.Stop()
	o.sched.Stop()
	o.exec.Close()

	graceCtx, cancel := context.WithTimeout(context.Background(), o.grace)
	defer cancel()
	if err := o.awaitExecutor(graceCtx); err != nil {
		o.logger.Warn("Grace period elapsed, aborting running actions",
			logger.Duration("grace", o.grace),
			logger.Int("in_flight", o.exec.InFlight()))
		o.exec.Abort()
		_ = o.awaitExecutor(context.Background())
	}
	o.logger.Info("Orchestrator stopped")
}

func (o *Orchestrator) awaitExecutor(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- o.exec.Wait(ctx) }()
	for {
		select {
		case err := <-done:
			o.drainResults()
			return err
		case res := <-o.resultCh:
			o.handleResult(res)
		}
	}
}

// drainResults records results already queued without waiting for more.
func (o *Orchestrator) drainResults() {
	for {
		select {
		case res := <-o.resultCh:
			o.handleResult(res)
		default:
			return
		}
	}
}
