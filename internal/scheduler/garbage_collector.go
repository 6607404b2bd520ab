package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/MrSnakeDoc/stackwatch/internal/index"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

const (
	// DefaultRefreshInterval is how often the status store is refreshed
	DefaultRefreshInterval = time.Minute
	jobTimeout             = 30 * time.Second
)

// GarbageCollector keeps the status store aligned with the local index:
// it re-saves every snapshot (TTL refresh) and deletes remote entries of
// services that are no longer managed.
type GarbageCollector struct {
	store     StatusStore
	index     *index.MemoryIndex
	logger    logger.Logger
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(
	store StatusStore,
	idx *index.MemoryIndex,
	log logger.Logger,
	interval time.Duration,
) *GarbageCollector {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &GarbageCollector{
		store:    store,
		index:    idx,
		logger:   log,
		interval: interval,
	}
}

// Start schedules Collect every interval on a gocron scheduler.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(gc.interval),
		gocron.NewTask(func() {
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			defer cancel()
			if err := gc.Collect(jobCtx); err != nil {
				gc.logger.Error("Status refresh failed", logger.Error(err))
			}
		}),
		gocron.WithName("status-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create status refresh job: %w", err)
	}

	gc.scheduler = s
	s.Start()
	gc.logger.Info("Status refresh scheduled", logger.Duration("interval", gc.interval))
	return nil
}

// Stop shuts the gocron scheduler down and waits for a running job.
func (gc *GarbageCollector) Stop() error {
	if gc.scheduler == nil {
		return nil
	}
	return gc.scheduler.Shutdown()
}

// Collect refreshes every indexed snapshot and removes remote entries
// that the index no longer knows.
func (gc *GarbageCollector) Collect(ctx context.Context) error {
	snaps := gc.index.GetAllServices()
	if err := gc.store.SaveStatusMany(ctx, snaps); err != nil {
		return fmt.Errorf("failed to refresh statuses: %w", err)
	}

	names, err := gc.store.ListNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list published services: %w", err)
	}

	known := gc.index.Names()
	deleted := 0
	for _, name := range names {
		if _, ok := known[name]; ok {
			continue
		}
		if err := gc.store.DeleteStatus(ctx, name); err != nil {
			gc.logger.Warn("Failed to delete stale status",
				logger.String("service", name),
				logger.Error(err))
			continue
		}
		gc.logger.Info("Garbage collected stale status", logger.String("service", name))
		deleted++
	}

	if deleted > 0 {
		gc.logger.Info("Status refresh completed",
			logger.Int("refreshed", len(snaps)),
			logger.Int("deleted", deleted))
	} else {
		gc.logger.Debug("Status refresh completed", logger.Int("refreshed", len(snaps)))
	}
	return nil
}
