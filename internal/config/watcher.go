package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// DefaultWatchDebounce coalesces the burst of events an editor save makes.
const DefaultWatchDebounce = 250 * time.Millisecond

// Change describes a reloaded configuration.
type Change struct {
	Old *Config
	New *Config
}

// DimensionChanged reports a new embedding dimension, which invalidates
// every stored vector.
func (c Change) DimensionChanged() bool {
	return c.Old.Embeddings.Dimensions != c.New.Embeddings.Dimensions
}

// ProviderChanged reports any change to how embeddings are produced.
func (c Change) ProviderChanged() bool {
	return c.Old.Embeddings != c.New.Embeddings
}

// ChunkingChanged reports new chunk window settings. Existing pages keep
// their chunks until they are indexed again.
func (c Change) ChunkingChanged() bool {
	return c.Old.Indexing.ChunkSize != c.New.Indexing.ChunkSize ||
		c.Old.Indexing.ChunkOverlap != c.New.Indexing.ChunkOverlap
}

// Watcher reloads a config file when it changes and emits a Change when
// the effective configuration differs.
type Watcher struct {
	path     string
	load     func(string) (*Config, error)
	debounce time.Duration

	fsw     *fsnotify.Watcher
	changes chan Change

	mu      sync.Mutex
	current *Config
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLoader replaces Load as the reload function.
func WithLoader(load func(string) (*Config, error)) WatcherOption {
	return func(w *Watcher) { w.load = load }
}

// NewWatcher watches path, comparing reloads against current. The parent
// directory is watched so editors that replace the file are seen.
func NewWatcher(path string, current *Config, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperr.ConfigError("resolve config path", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperr.InternalError("create file watcher", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, apperr.ConfigError("watch config directory", err)
	}

	w := &Watcher{
		path:     abs,
		load:     Load,
		debounce: DefaultWatchDebounce,
		fsw:      fsw,
		changes:  make(chan Change, 1),
		current:  current,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Changes delivers one Change per effective configuration change.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run processes file events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload loads the file and emits a Change when it differs. An invalid
// file keeps the current configuration.
func (w *Watcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		slog.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	if w.stopped || reflect.DeepEqual(w.current, cfg) {
		w.mu.Unlock()
		return
	}
	change := Change{Old: w.current, New: cfg}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config_changed",
		slog.String("path", w.path),
		slog.Bool("dimension_changed", change.DimensionChanged()),
		slog.Bool("provider_changed", change.ProviderChanged()))

	select {
	case w.changes <- change:
	case <-w.stopCh:
	}
}

// Current returns the last loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops watching. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	w.mu.Unlock()
	return w.fsw.Close()
}
