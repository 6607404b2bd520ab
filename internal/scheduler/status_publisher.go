package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	"github.com/MrSnakeDoc/stackwatch/internal/metrics"
)

const (
	// DefaultPublishBuffer is the queue size of the status publisher
	DefaultPublishBuffer = 256
	// drainTimeout bounds the final flush on shutdown
	drainTimeout = 5 * time.Second
)

// StatusStore is the remote status backend (redis in production).
type StatusStore interface {
	SaveStatus(ctx context.Context, snap domain.Snapshot) error
	SaveStatusMany(ctx context.Context, snaps []domain.Snapshot) error
	DeleteStatus(ctx context.Context, name string) error
	ListNames(ctx context.Context) ([]string, error)
}

type statusUpdate struct {
	snap    domain.Snapshot
	deleted bool
}

// StatusPublisher forwards service snapshots to the status store from its
// own goroutine. Push never blocks the caller: when the queue is full the
// update is dropped and counted, the periodic refresh repairs the gap.
type StatusPublisher struct {
	store  StatusStore
	rec    metrics.Recorder
	logger logger.Logger
	queue  chan statusUpdate
	done   chan struct{}
}

// NewStatusPublisher creates a publisher. rec may be nil.
func NewStatusPublisher(store StatusStore, log logger.Logger, rec metrics.Recorder, buffer int) *StatusPublisher {
	if buffer <= 0 {
		buffer = DefaultPublishBuffer
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &StatusPublisher{
		store:  store,
		rec:    rec,
		logger: log,
		queue:  make(chan statusUpdate, buffer),
		done:   make(chan struct{}),
	}
}

// Publish queues a snapshot; it reports false when the update was dropped.
func (p *StatusPublisher) Publish(snap domain.Snapshot) bool {
	return p.enqueue(statusUpdate{snap: snap})
}

// Delete queues the removal of a service.
func (p *StatusPublisher) Delete(name string) bool {
	return p.enqueue(statusUpdate{snap: domain.Snapshot{Name: name}, deleted: true})
}

func (p *StatusPublisher) enqueue(u statusUpdate) bool {
	select {
	case p.queue <- u:
		return true
	default:
		p.rec.IncPublishDropped()
		p.logger.Warn("Status queue full, dropping update",
			logger.String("service", u.snap.Name))
		return false
	}
}

// Run writes queued updates until ctx is done, then flushes what is left.
func (p *StatusPublisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case u := <-p.queue:
			p.write(ctx, u)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// Done is closed once Run returned.
func (p *StatusPublisher) Done() <-chan struct{} { return p.done }

func (p *StatusPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case u := <-p.queue:
			p.write(ctx, u)
		default:
			return
		}
	}
}

func (p *StatusPublisher) write(ctx context.Context, u statusUpdate) {
	var err error
	if u.deleted {
		err = p.store.DeleteStatus(ctx, u.snap.Name)
	} else {
		err = p.store.SaveStatus(ctx, u.snap)
	}
	if err != nil {
		// Best effort: the local index stays authoritative
		p.logger.Warn("Failed to publish service status",
			logger.String("service", u.snap.Name),
			logger.Bool("deleted", u.deleted),
			logger.Error(err))
	}
}
