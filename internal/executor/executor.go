// Package executor runs container lifecycle actions off the event loop.
//
// Actions for one service are strictly serialized: while one runs, at most
// one follow-up is kept and a newer request replaces it. Actions for
// different services run concurrently, bounded by a worker semaphore.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrSnakeDoc/stackwatch/internal/compose"
	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	"github.com/MrSnakeDoc/stackwatch/internal/metrics"
)

// DefaultWorkers bounds concurrent compose invocations when Options.Workers is unset.
const DefaultWorkers = 4

// Runner is the external container tool.
type Runner interface {
	Up(ctx context.Context, project, dir string) (string, error)
	Down(ctx context.Context, project, dir string) (string, error)
}

// Request asks for one action on one service.
type Request struct {
	Service string
	Path    string
	Action  domain.Action
}

type Options struct {
	Workers  int
	Notify   func(domain.Result)
	Recorder metrics.Recorder
}

type Executor struct {
	runner Runner
	notify func(domain.Result)
	rec    metrics.Recorder
	log    logger.Logger
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	slots    map[string]*slot // present while the service has a worker
	closed   bool
	inFlight int
	wg       sync.WaitGroup
}

type slot struct {
	pending *Request
}

func New(runner Runner, opts Options, log logger.Logger) *Executor {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Notify == nil {
		opts.Notify = func(domain.Result) {}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		runner: runner,
		notify: opts.Notify,
		rec:    opts.Recorder,
		log:    log,
		sem:    semaphore.NewWeighted(int64(opts.Workers)),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*slot),
	}
}

// Submit schedules req without waiting for the tool. When the service
// already has a running action, req becomes its follow-up; superseded is
// true if that replaced an earlier follow-up, which will produce no Result.
func (e *Executor) Submit(req Request) (superseded bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, domain.ErrExecutorClosed
	}

	if s, ok := e.slots[req.Service]; ok {
		if s.pending != nil {
			superseded = true
			e.rec.IncSuperseded(s.pending.Action.String())
			e.log.Info("Dropping superseded action",
				logger.String("service", req.Service),
				logger.String("dropped", s.pending.Action.String()),
				logger.String("queued", req.Action.String()))
		}
		r := req
		s.pending = &r
		return superseded, nil
	}

	e.slots[req.Service] = &slot{}
	e.wg.Add(1)
	go e.work(req)
	return false, nil
}

// work drains the follow-up slot of one service. The slot is released only
// after the last Notify returned, so results for a service arrive in order.
func (e *Executor) work(req Request) {
	defer e.wg.Done()
	for {
		res := e.run(req)

		e.mu.Lock()
		s := e.slots[req.Service]
		next := s.pending
		s.pending = nil
		e.mu.Unlock()

		e.rec.ObserveAction(res.Action.String(), res.Outcome(), res.Duration())
		e.notify(res)

		if next == nil {
			e.mu.Lock()
			next = s.pending
			s.pending = nil
			if next == nil {
				delete(e.slots, req.Service)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
		}
		req = *next
	}
}

func (e *Executor) run(req Request) domain.Result {
	res := domain.Result{
		ID:      uuid.NewString(),
		Service: req.Service,
		Action:  req.Action,
	}
	log := e.log.With(
		logger.String("service", req.Service),
		logger.String("action", req.Action.String()),
		logger.String("action_id", res.ID))

	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		res.Started = time.Now()
		res.Finished = res.Started
		res.ExitCode = -1
		res.Err = fmt.Errorf("waiting for a worker: %w", err)
		return res
	}
	e.trackInFlight(1)
	defer func() {
		e.trackInFlight(-1)
		e.sem.Release(1)
	}()

	log.Debug("Running action")
	res.Started = time.Now()
	out, err := e.execute(req)
	res.Finished = time.Now()
	res.Output = out
	res.Err = err

	var ae *domain.ActionError
	switch {
	case err == nil:
		log.Info("Action succeeded", logger.Duration("took", res.Duration()))
	case errors.As(err, &ae):
		res.ExitCode = ae.ExitCode
		if ae.Output != "" {
			res.Output = ae.Output
		}
		log.Error("Action failed",
			logger.Int("exit_code", ae.ExitCode),
			logger.String("output", res.Output),
			logger.Error(err))
	default:
		res.ExitCode = -1
		log.Warn("Action not run", logger.Error(err))
	}
	return res
}

func (e *Executor) execute(req Request) (string, error) {
	project := compose.ProjectName(req.Service)

	switch req.Action {
	case domain.ActionUp:
		if _, err := compose.FindProjectFile(req.Path); err != nil {
			return "", err
		}
		return e.runner.Up(e.ctx, project, req.Path)

	case domain.ActionDown:
		return e.runner.Down(e.ctx, project, req.Path)

	case domain.ActionRestart:
		if _, err := compose.FindProjectFile(req.Path); err != nil {
			return "", err
		}
		downOut, err := e.runner.Down(e.ctx, project, req.Path)
		if err != nil {
			return downOut, fmt.Errorf("restart: %w", err)
		}
		upOut, err := e.runner.Up(e.ctx, project, req.Path)
		return downOut + upOut, err

	default:
		return "", fmt.Errorf("unknown action %d", int(req.Action))
	}
}

func (e *Executor) trackInFlight(delta int) {
	e.mu.Lock()
	e.inFlight += delta
	n := e.inFlight
	e.mu.Unlock()
	e.rec.SetInFlight(n)
}

// InFlight returns the number of actions currently holding a worker.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Close stops accepting work and drops queued follow-ups. Running actions
// continue; use Wait and Abort to finish them.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for name, s := range e.slots {
		if s.pending != nil {
			e.log.Info("Dropping queued action on shutdown",
				logger.String("service", name),
				logger.String("action", s.pending.Action.String()))
			s.pending = nil
		}
	}
}

// Wait blocks until every worker returned or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels running subprocesses and workers waiting for a slot.
func (e *Executor) Abort() {
	e.cancel()
}
