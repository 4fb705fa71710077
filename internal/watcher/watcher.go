// Package watcher watches the image directory and triggers reconciliation when backing files disappear.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/utsushi/internal/fileid"
)

const defaultDebounce = 2 * time.Second

// Trigger is invoked once per debounce window with the image files removed during it.
type Trigger func(ctx context.Context, removed []string)

// Watcher watches a single image directory. Removals and renames of image files are
// collected and delivered to the trigger after the directory has been quiet for the
// debounce interval.
type Watcher struct {
	dir      string
	trigger  Trigger
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	pending  map[string]struct{}
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	running  sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet interval before the trigger fires. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, trigger Trigger, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		trigger:  trigger,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start begins watching. It creates the directory when missing and runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher starting", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if filepath.Clean(ev.Name) == w.dir {
		w.logger.Warn("image directory removed", zap.String("dir", w.dir))
	} else if !fileid.IsImageFile(ev.Name) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	w.schedule(filepath.Base(ev.Name))
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.pending[name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if !w.started || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	removed := make([]string, 0, len(w.pending))
	for name := range w.pending {
		removed = append(removed, name)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	ctx := w.ctx
	w.running.Add(1)
	w.mu.Unlock()
	defer w.running.Done()

	w.logger.Debug("watcher triggering", zap.Strings("removed", removed))
	if w.trigger != nil {
		w.trigger(ctx, removed)
	}
}

// Flush fires any pending trigger immediately.
func (w *Watcher) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.fire()
}

// Stop stops the watcher and waits for an in-flight trigger to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		w.logger.Debug("watcher close", zap.Error(err))
	}
	w.stopOnce.Do(func() { close(w.done) })
	w.running.Wait()
}
