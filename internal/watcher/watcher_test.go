package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

const eventTimeout = 3 * time.Second

func startWatcher(t *testing.T, base string) *Watcher {
	t.Helper()

	w, err := New(base, Options{}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		w.Stop()
		<-w.Done()
	})
	return w
}

func nextEvent(t *testing.T, w *Watcher) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for watcher event")
	}
	return domain.Event{}
}

// nextEventOf skips events of other kinds; nested removals, for example,
// are reported as changes before the service removal itself.
func nextEventOf(t *testing.T, w *Watcher, kind domain.EventKind) domain.Event {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event stream closed")
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestNewFailsOnMissingBase(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{}, logger.NewNop())
	require.Error(t, err)

	var wse *domain.WatchSetupError
	assert.True(t, errors.As(err, &wse), "expected WatchSetupError, got %T", err)
}

func TestNewFailsOnFileBase(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New(file, Options{}, logger.NewNop())
	var wse *domain.WatchSetupError
	require.ErrorAs(t, err, &wse)
}

func TestWatcherServiceLifecycle(t *testing.T) {
	base := t.TempDir()
	w := startWatcher(t, base)

	svc := filepath.Join(base, "svc-a")
	require.NoError(t, os.Mkdir(svc, 0o755))

	ev := nextEvent(t, w)
	assert.Equal(t, domain.ServiceAdded, ev.Kind)
	assert.Equal(t, "svc-a", ev.Service)

	// Give the recursive watch a moment to settle before writing inside.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(svc, "docker-compose.yaml"), []byte("services: {}\n"), 0o644))

	ev = nextEventOf(t, w, domain.ServiceChanged)
	assert.Equal(t, "svc-a", ev.Service)
	assert.Equal(t, filepath.Join(svc, "docker-compose.yaml"), ev.Path)

	require.NoError(t, os.RemoveAll(svc))
	ev = nextEventOf(t, w, domain.ServiceRemoved)
	assert.Equal(t, "svc-a", ev.Service)
}

func TestWatcherIgnoresArtifactsAndTopLevelFiles(t *testing.T) {
	base := t.TempDir()
	svc := filepath.Join(base, "svc-a")
	require.NoError(t, os.Mkdir(svc, 0o755))

	w := startWatcher(t, base)

	require.NoError(t, os.WriteFile(filepath.Join(base, "README"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(base, ".trash"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(svc, ".compose.yaml.swp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(svc, "compose.yaml~"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(svc, "compose.yaml"), []byte("x"), 0o644))

	ev := nextEvent(t, w)
	assert.Equal(t, domain.ServiceChanged, ev.Kind)
	assert.Equal(t, filepath.Join(svc, "compose.yaml"), ev.Path)
}

func TestWatcherNestedDirectories(t *testing.T) {
	base := t.TempDir()
	svc := filepath.Join(base, "svc-a")
	require.NoError(t, os.MkdirAll(filepath.Join(svc, "config"), 0o755))

	w := startWatcher(t, base)

	require.NoError(t, os.WriteFile(filepath.Join(svc, "config", "app.conf"), []byte("x"), 0o644))
	ev := nextEventOf(t, w, domain.ServiceChanged)
	assert.Equal(t, filepath.Join(svc, "config", "app.conf"), ev.Path)

	// A directory created after startup is watched too.
	fresh := filepath.Join(svc, "fresh")
	require.NoError(t, os.Mkdir(fresh, 0o755))
	nextEventOf(t, w, domain.ServiceChanged)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(fresh, "x.conf"), []byte("x"), 0o644))
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == filepath.Join(fresh, "x.conf") {
				return
			}
		case <-deadline:
			t.Fatal("no event for file in nested directory created after startup")
		}
	}
}

func TestWatcherReportsContentsOfMovedInDirectory(t *testing.T) {
	base := t.TempDir()
	svc := filepath.Join(base, "svc-a")
	require.NoError(t, os.Mkdir(svc, 0o755))

	// built outside base so no watch sees the files being written
	staging := filepath.Join(t.TempDir(), "conf")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "deep", ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "deep", "app.conf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "deep", "app.conf.swp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "deep", ".cache", "blob"), []byte("x"), 0o644))

	w := startWatcher(t, base)

	require.NoError(t, os.Rename(staging, filepath.Join(svc, "conf")))

	want := filepath.Join(svc, "conf", "deep", "app.conf")
	var paths []string
	deadline := time.After(eventTimeout)
collect:
	for {
		select {
		case ev := <-w.Events():
			require.Equal(t, domain.ServiceChanged, ev.Kind)
			assert.Equal(t, "svc-a", ev.Service)
			paths = append(paths, ev.Path)
			if ev.Path == want {
				deadline = time.After(200 * time.Millisecond)
			}
		case <-deadline:
			break collect
		}
	}

	assert.Contains(t, paths, want)
	assert.NotContains(t, paths, filepath.Join(svc, "conf", "deep", "app.conf.swp"))
	assert.NotContains(t, paths, filepath.Join(svc, "conf", "deep", ".cache", "blob"))
}

func TestWatcherRenameIsRemoveThenAdd(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "old"), 0o755))

	w := startWatcher(t, base)
	require.NoError(t, os.Rename(filepath.Join(base, "old"), filepath.Join(base, "new")))

	removed := nextEventOf(t, w, domain.ServiceRemoved)
	assert.Equal(t, "old", removed.Service)
	added := nextEventOf(t, w, domain.ServiceAdded)
	assert.Equal(t, "new", added.Service)
}

func TestWatcherStopClosesStream(t *testing.T) {
	w, err := New(t.TempDir(), Options{}, logger.NewNop())
	require.NoError(t, err)

	go w.Run(context.Background())
	w.Stop()
	w.Stop()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(eventTimeout):
		t.Fatal("event stream not closed after Stop")
	}
}

func TestListServices(t *testing.T) {
	base := t.TempDir()
	for _, d := range []string{"b-svc", "a-svc", ".hidden"} {
		require.NoError(t, os.Mkdir(filepath.Join(base, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, "file.txt"), nil, 0o644))

	dirs, err := ListServices(base)
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, "a-svc", dirs[0].Name)
	assert.Equal(t, filepath.Join(base, "b-svc"), dirs[1].Path)
}
