// Package redis persists service status snapshots and broadcasts status
// events for external dashboards.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
)

// DefaultStatusTTL is the default TTL for status entries (48 hours)
const DefaultStatusTTL = 48 * time.Hour

// ErrNotFound is returned when no status is stored for a service
var ErrNotFound = errors.New("service status not found")

// EventType tells subscribers what happened to a service
type EventType string

const (
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is the message published on ChannelEvents
type Event struct {
	Type    EventType        `json:"type"`
	Name    string           `json:"name"`
	Service *domain.Snapshot `json:"service,omitempty"`
	At      time.Time        `json:"at"`
}

// Store handles Redis operations for service status
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new Redis store. A non-positive ttl uses DefaultStatusTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// SaveStatus stores a snapshot and publishes an update event
func (s *Store) SaveStatus(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	event, err := json.Marshal(Event{Type: EventUpdated, Name: snap.Name, Service: &snap, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, ServiceKey(snap.Name), data, s.ttl)
	pipe.SAdd(ctx, AllServicesKey(), snap.Name)
	pipe.Publish(ctx, ChannelEvents, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save status of %s: %w", snap.Name, err)
	}
	return nil
}

// SaveStatusMany re-saves many snapshots (TTL refresh) without publishing
func (s *Store) SaveStatusMany(ctx context.Context, snaps []domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()

	for _, snap := range snaps {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal status %s: %w", snap.Name, err)
		}
		pipe.Set(ctx, ServiceKey(snap.Name), data, s.ttl)
		pipe.SAdd(ctx, AllServicesKey(), snap.Name)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save statuses: %w", err)
	}
	return nil
}

// GetStatus retrieves the snapshot of a service
func (s *Store) GetStatus(ctx context.Context, name string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	data, err := s.client.Get(ctx, ServiceKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return snap, fmt.Errorf("failed to get status: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return snap, nil
}

// ListNames returns the names in the set of published services, sorted
func (s *Store) ListNames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// GetAllStatuses retrieves every stored snapshot. Names whose entry expired
// are removed from the set.
func (s *Store) GetAllStatuses(ctx context.Context) ([]domain.Snapshot, error) {
	names, err := s.ListNames(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]domain.Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := s.GetStatus(ctx, name)
		if errors.Is(err, ErrNotFound) {
			_ = s.client.SRem(ctx, AllServicesKey(), name).Err()
			continue
		}
		if err != nil {
			// Skip entries that couldn't be decoded
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// DeleteStatus removes a service and publishes a delete event
func (s *Store) DeleteStatus(ctx context.Context, name string) error {
	event, err := json.Marshal(Event{Type: EventDeleted, Name: name, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, ServiceKey(name))
	pipe.SRem(ctx, AllServicesKey(), name)
	pipe.Publish(ctx, ChannelEvents, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete status of %s: %w", name, err)
	}
	return nil
}

// Ping checks the connection, used by the readiness probe
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
