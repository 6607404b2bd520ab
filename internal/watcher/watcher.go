package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

// DefaultBuffer is the capacity of the event stream.
const DefaultBuffer = 256

type Options struct {
	IgnoreSuffixes []string // appended to the default artifact suffixes
	Buffer         int      // event stream capacity (default DefaultBuffer)
}

// Watcher is the change detector. It watches the base directory and every
// service directory below it and turns filesystem notifications into a
// stream of service-level events.
type Watcher struct {
	base   string
	fsw    *fsnotify.Watcher
	filter *Filter
	logger logger.Logger
	events chan domain.Event

	// known is only touched by New and the Run goroutine.
	known map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	running  chan struct{}
}

// ServiceDir is a service directory found on disk.
type ServiceDir struct {
	Name string
	Path string
}

// New validates basePath and installs the watches. Any failure to watch the
// base directory itself is returned as *domain.WatchSetupError.
func New(basePath string, opts Options, log logger.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, &domain.WatchSetupError{Path: basePath, Err: err}
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, &domain.WatchSetupError{Path: abs, Err: err}
	}
	if !fi.IsDir() {
		return nil, &domain.WatchSetupError{Path: abs, Err: fmt.Errorf("not a directory")}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &domain.WatchSetupError{Path: abs, Err: fmt.Errorf("fsnotify: %w", err)}
	}
	if err := fsw.Add(abs); err != nil {
		_ = fsw.Close()
		return nil, &domain.WatchSetupError{Path: abs, Err: err}
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	w := &Watcher{
		base:    abs,
		fsw:     fsw,
		filter:  NewFilter(opts.IgnoreSuffixes),
		logger:  log,
		events:  make(chan domain.Event, buffer),
		known:   make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		running: make(chan struct{}),
	}

	dirs, err := ListServices(abs)
	if err != nil {
		_ = fsw.Close()
		return nil, &domain.WatchSetupError{Path: abs, Err: err}
	}
	for _, d := range dirs {
		w.known[d.Name] = struct{}{}
		w.addRecursive(d.Path)
	}

	log.Info("watching base path",
		logger.String("path", abs),
		logger.Int("services", len(dirs)))

	return w, nil
}

// BasePath returns the absolute watched directory.
func (w *Watcher) BasePath() string { return w.base }

// Events is the event stream. It is closed once Run returns.
func (w *Watcher) Events() <-chan domain.Event { return w.events }

// Run pumps filesystem notifications until ctx is done or Stop is called.
// It must be called at most once.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer close(w.running)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", logger.Error(err))
		}
	}
}

// Stop closes the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("failed to close fsnotify watcher", logger.Error(err))
		}
	})
}

// Done is closed when Run has returned.
func (w *Watcher) Done() <-chan struct{} { return w.running }

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.base, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		if ev.Name == w.base && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
			w.logger.Error("base path disappeared, no further events will be reported",
				logger.String("path", w.base))
		}
		return
	}

	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	name := parts[0]
	if !IsServiceName(name) {
		return
	}

	if len(parts) == 1 {
		w.handleTopLevel(ctx, name, ev)
		return
	}

	if _, ok := w.known[name]; !ok {
		return
	}
	if ev.Op == fsnotify.Chmod {
		return
	}
	if w.filter.Ignored(parts[1]) {
		w.logger.Debug("ignoring artifact change",
			logger.String("service", name),
			logger.String("path", ev.Name),
			logger.String("op", ev.Op.String()))
		return
	}

	newDir := false
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			w.addRecursive(ev.Name)
			newDir = true
		}
	}

	w.logger.Debug("file change detected",
		logger.String("service", name),
		logger.String("path", ev.Name),
		logger.String("op", ev.Op.String()))
	w.emit(ctx, domain.Event{Kind: domain.ServiceChanged, Service: name, Path: ev.Name, At: time.Now()})

	if newDir {
		w.emitContents(ctx, name, ev.Name)
	}
}

// emitContents reports files that already exist below a directory that just
// appeared inside a service. They were written before the watch was added
// (a moved-in tree, or a fast mkdir -p && write) and produce no events.
func (w *Watcher) emitContents(ctx context.Context, name, dir string) {
	svcDir := filepath.Join(w.base, name)
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || path == dir {
			return nil
		}
		rel, err := filepath.Rel(svcDir, path)
		if err != nil {
			return nil
		}
		if w.filter.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		w.emit(ctx, domain.Event{Kind: domain.ServiceChanged, Service: name, Path: path, At: time.Now()})
		return nil
	})
}

// handleTopLevel deals with entries directly below the base path. Writes
// and chmods on the service directory entry itself are not changes.
func (w *Watcher) handleTopLevel(ctx context.Context, name string, ev fsnotify.Event) {
	_, known := w.known[name]

	switch {
	case ev.Has(fsnotify.Create):
		fi, err := os.Stat(ev.Name)
		if err != nil || !fi.IsDir() {
			return
		}
		if known {
			return
		}
		w.known[name] = struct{}{}
		w.addRecursive(ev.Name)
		w.emit(ctx, domain.Event{Kind: domain.ServiceAdded, Service: name, Path: ev.Name, At: time.Now()})

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if !known {
			return
		}
		// A rename reports the old name only; the new name arrives as a
		// Create, so a rename becomes Removed(old) + Added(new).
		delete(w.known, name)
		w.dropWatches(ev.Name)
		w.emit(ctx, domain.Event{Kind: domain.ServiceRemoved, Service: name, Path: ev.Name, At: time.Now()})
	}
}

func (w *Watcher) emit(ctx context.Context, ev domain.Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

// addRecursive watches root and every non-hidden directory below it.
func (w *Watcher) addRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch add failed", logger.String("dir", path), logger.Error(err))
		}
		return nil
	})
}

// dropWatches forgets watches left behind by a renamed service directory.
func (w *Watcher) dropWatches(root string) {
	prefix := root + string(filepath.Separator)
	for _, p := range w.fsw.WatchList() {
		if p == root || strings.HasPrefix(p, prefix) {
			_ = w.fsw.Remove(p)
		}
	}
}

// ListServices returns the service directories currently under base,
// sorted by name. Hidden directories and plain files are skipped.
func ListServices(base string) ([]ServiceDir, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", base, err)
	}

	dirs := make([]ServiceDir, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !IsServiceName(e.Name()) {
			continue
		}
		dirs = append(dirs, ServiceDir{Name: e.Name(), Path: filepath.Join(base, e.Name())})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return dirs, nil
}
