package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/index"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	redisstore "github.com/MrSnakeDoc/stackwatch/internal/store/redis"
)

func newRedisStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewStore(client, time.Hour), mr
}

func TestGarbageCollector_Collect(t *testing.T) {
	log := logger.NewNop()
	store, mr := newRedisStore(t)
	ctx := context.Background()
	memIndex := index.NewMemoryIndex()

	memIndex.UpdateServices([]domain.Snapshot{
		{Name: "active", State: domain.StateRunning},
		{Name: "broken", State: domain.StateFailed},
	})

	// "removed" was published earlier but is no longer managed
	if err := store.SaveStatus(ctx, domain.Snapshot{Name: "removed", State: domain.StateRunning}); err != nil {
		t.Fatalf("SaveStatus failed: %v", err)
	}
	// "active" is published with a short TTL that the refresh extends
	if err := store.SaveStatus(ctx, domain.Snapshot{Name: "active", State: domain.StateStarting}); err != nil {
		t.Fatalf("SaveStatus failed: %v", err)
	}
	mr.SetTTL(redisstore.ServiceKey("active"), time.Second)

	gc := NewGarbageCollector(store, memIndex, log, time.Hour)
	if err := gc.Collect(ctx); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	names, err := store.ListNames(ctx)
	if err != nil {
		t.Fatalf("ListNames failed: %v", err)
	}
	if len(names) != 2 || names[0] != "active" || names[1] != "broken" {
		t.Errorf("published names = %v, want [active broken]", names)
	}

	active, err := store.GetStatus(ctx, "active")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if active.State != domain.StateRunning {
		t.Errorf("refresh should overwrite with the indexed snapshot, got %v", active.State)
	}
	if ttl := mr.TTL(redisstore.ServiceKey("active")); ttl != time.Hour {
		t.Errorf("TTL after refresh = %v, want 1h", ttl)
	}
}

func TestGarbageCollector_StartStop(t *testing.T) {
	store, _ := newRedisStore(t)
	memIndex := index.NewMemoryIndex()
	memIndex.AddService(domain.Snapshot{Name: "svc", State: domain.StateRunning})

	gc := NewGarbageCollector(store, memIndex, logger.NewNop(), 20*time.Millisecond)
	if err := gc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		names, _ := store.ListNames(context.Background())
		if len(names) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled refresh never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := gc.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestRedisSyncer_Sync(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	base := t.TempDir()

	if err := os.Mkdir(filepath.Join(base, "present"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "file-not-dir"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"present", "vanished", "file-not-dir"} {
		if err := store.SaveStatus(ctx, domain.Snapshot{Name: name}); err != nil {
			t.Fatalf("SaveStatus failed: %v", err)
		}
	}

	removed, err := NewRedisSyncer(store, base, logger.NewNop()).Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	names, _ := store.ListNames(ctx)
	if len(names) != 1 || names[0] != "present" {
		t.Errorf("names after sync = %v, want [present]", names)
	}
}
