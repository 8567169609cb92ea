// Package watch dispatches new screenshots in a folder to a handler as they
// appear. Rapid writes to the same file are debounced into one dispatch, and
// dispatch is sequential on a single event loop goroutine.
package watch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"deskwatch/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Handler processes one settled file.
type Handler func(ctx context.Context, path string)

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Dispatched    int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches one directory.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	handler     Handler
	match       func(path string) bool
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closeOnce   sync.Once
	log         *logging.Logger

	stats Stats
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before dispatch.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDur = d
		}
	}
}

// WithFilter restricts dispatch to paths for which match returns true.
func WithFilter(match func(path string) bool) Option {
	return func(w *Watcher) { w.match = match }
}

// WithLogger sets the logger; the watch category is derived from it.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.log = l.For(logging.CategoryWatch) }
}

// New creates a watcher for dir. Nothing is watched until Start.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:     fw,
		dir:         dir,
		handler:     handler,
		match:       func(string) bool { return true },
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It is non-blocking and a no-op if already running.
// The loop ends on Stop or when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	info, err := os.Stat(w.dir)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		w.mu.Unlock()
		return fmt.Errorf("watch directory: %s is not a directory", w.dir)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("watching %s (debounce %s)", w.dir, w.debounceDur)
	go w.run(ctx)
	return nil
}

// Stop ends the loop, waits for an in-flight dispatch to finish and releases
// the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			w.log.Error("error closing watcher: %v", err)
		}
		w.log.Info("stopped watching %s", w.dir)
	})
}

// Done is closed when the event loop of a started watcher has exited.
func (w *Watcher) Done() <-chan struct{} { return w.doneCh }

// IsWatching reports whether the loop was started and not stopped.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a snapshot of the counters.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) tickInterval() time.Duration {
	if half := w.debounceDur / 2; half < 100*time.Millisecond {
		return max(half, 10*time.Millisecond)
	}
	return 100 * time.Millisecond
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.dispatchSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Removals and renames away have nothing left to analyze.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.match(event.Name) {
		return
	}
	w.log.Debug("%s event for %s", event.Op, event.Name)

	w.mu.Lock()
	now := time.Now()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = now
	w.debounceMap[event.Name] = now
	w.mu.Unlock()
}

func (w *Watcher) dispatchSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(settled)

	for _, path := range settled {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			w.log.Debug("skipping %s: no longer a regular file", path)
			continue
		}
		w.handler(ctx, path)
		w.mu.Lock()
		w.stats.Dispatched++
		w.mu.Unlock()
	}
}
