package cli

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of file change event.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
	EventRenamed
)

// FileEvent represents a file change event.
type FileEvent struct {
	Type EventType
	Path string
	Name string
}

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Watcher watches directories and calls handlers for files whose base
// name matches a glob.
type Watcher struct {
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	handlers  []watchEntry
	mu        sync.RWMutex
	wg        sync.WaitGroup
	events    chan FileEvent
	done      chan struct{}
	stopOnce  sync.Once
	pendingMu sync.Mutex
	pending   map[string]*time.Timer
}

type watchEntry struct {
	dir     string
	pattern glob.Glob
	handler WatchHandler
}

// WatchHandler is called when a file change is detected.
type WatchHandler func(event FileEvent)

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce coalesces events for the same file within d.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		debounce: 100 * time.Millisecond,
		events:   make(chan FileEvent, 100),
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// WatchDir watches dir and calls handler for files whose base name matches
// pattern. Watching the directory rather than the file survives editors
// that save by renaming a temp file over the original.
func (w *Watcher) WatchDir(dir, pattern string, handler WatchHandler) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}

	dir = filepath.Clean(dir)

	w.mu.Lock()
	w.handlers = append(w.handlers, watchEntry{dir: dir, pattern: g, handler: handler})
	w.mu.Unlock()

	return w.watcher.Add(dir)
}

func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(2)

	go func() {
		defer w.wg.Done()
		w.processLoop(ctx)
	}()

	go func() {
		defer w.wg.Done()
		w.dispatchLoop(ctx)
	}()
}

func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.pendingMu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pendingMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	var eventType EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = EventCreated
	case event.Op&fsnotify.Write != 0:
		eventType = EventModified
	case event.Op&fsnotify.Remove != 0:
		eventType = EventDeleted
	case event.Op&fsnotify.Rename != 0:
		eventType = EventRenamed
	default:
		return
	}

	fileEvent := FileEvent{
		Type: eventType,
		Path: event.Name,
		Name: filepath.Base(event.Name),
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, exists := w.pending[event.Name]; exists {
		timer.Stop()
	}

	w.pending[event.Name] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, event.Name)
		w.pendingMu.Unlock()

		select {
		case w.events <- fileEvent:
		default:
			log.Warn().Str("path", event.Name).Msg("Event channel full, dropping event")
		}
	})
}

func (w *Watcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event := <-w.events:
			w.dispatchEvent(event)
		}
	}
}

func (w *Watcher) dispatchEvent(event FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	dir := filepath.Dir(event.Path)
	for _, e := range w.handlers {
		if e.dir == dir && e.pattern.Match(event.Name) {
			e.handler(event)
		}
	}
}

const watchDebounce = 200 * time.Millisecond

// SeedWatcher re-imports the webhook seed file whenever it changes.
type SeedWatcher struct {
	watcher *Watcher
}

func NewSeedWatcher(seedPath string, onChange func(path string)) (*SeedWatcher, error) {
	abs, err := filepath.Abs(seedPath)
	if err != nil {
		return nil, err
	}

	w, err := NewWatcher(WithDebounce(watchDebounce))
	if err != nil {
		return nil, err
	}

	if err := w.WatchDir(filepath.Dir(abs), glob.QuoteMeta(filepath.Base(abs)), func(event FileEvent) {
		if event.Type == EventModified || event.Type == EventCreated {
			log.Debug().Str("event", event.Type.String()).Str("path", event.Path).Msg("Seed file changed")
			onChange(event.Path)
		}
	}); err != nil {
		_ = w.Stop()
		return nil, err
	}

	return &SeedWatcher{watcher: w}, nil
}

func (sw *SeedWatcher) Start(ctx context.Context) {
	sw.watcher.Start(ctx)
}

func (sw *SeedWatcher) Stop() error {
	return sw.watcher.Stop()
}
