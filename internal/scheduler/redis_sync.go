package scheduler

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

// RedisSyncer removes, at startup, published statuses of services whose
// directory disappeared while the daemon was down.
type RedisSyncer struct {
	store    StatusStore
	basePath string
	logger   logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(store StatusStore, basePath string, log logger.Logger) *RedisSyncer {
	return &RedisSyncer{
		store:    store,
		basePath: basePath,
		logger:   log,
	}
}

// Sync deletes stale entries and returns how many were removed.
func (rs *RedisSyncer) Sync(ctx context.Context) (int, error) {
	names, err := rs.store.ListNames(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		info, err := os.Stat(filepath.Join(rs.basePath, name))
		if err == nil && info.IsDir() {
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			rs.logger.Warn("Cannot stat service directory, keeping status",
				logger.String("service", name),
				logger.Error(err))
			continue
		}
		if err := rs.store.DeleteStatus(ctx, name); err != nil {
			rs.logger.Warn("Failed to delete stale status",
				logger.String("service", name),
				logger.Error(err))
			continue
		}
		rs.logger.Info("Removed status of vanished service", logger.String("service", name))
		removed++
	}

	rs.logger.Info("Synced statuses with base path",
		logger.Int("published", len(names)),
		logger.Int("removed", removed))
	return removed, nil
}
