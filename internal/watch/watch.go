// internal/watch/watch.go
//
// Debounced file watching for one configuration file.
//
/*
Context
--------
Editors and the store's atomic save both replace the file instead of
writing it in place, which drops a watch on the file itself.  The Watcher
therefore watches the containing directory and filters events by file name.

Bursts of events (write, rename, create) collapse into one callback after
the debounce interval of quiet.  Chmod-only events are ignored.

Notes
-----
  • Run blocks until ctx ends or Stop is called.
  • The callback runs on a timer goroutine; Run never calls it concurrently
    with itself because the debouncer keeps a single pending timer.
*/
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is used when New receives a non-positive interval.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports changes to one file.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	name     string
	log      *zap.SugaredLogger
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New prepares a watcher for path.  Nothing is watched until Run.
func New(path string, debounce time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.S()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fs:       fw,
		path:     abs,
		name:     filepath.Base(abs),
		log:      log,
		debounce: NewDebouncer(debounce),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Run watches until ctx ends or Stop is called.  onChange receives ctx and
// its error, if any, is logged.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return errors.New("watcher already running or stopped")
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.doneCh)

	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.log.Infow("file watcher started", "file", w.path)

	for {
		select {
		case <-ctx.Done():
			w.log.Infow("file watcher stopped", "file", w.path)
			return nil

		case <-w.stopCh:
			w.log.Infow("file watcher stopped", "file", w.path)
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debugw("file event", "file", ev.Name, "op", ev.Op.String())

			w.debounce.Trigger(func() {
				if err := onChange(ctx); err != nil {
					w.log.Errorw("reload after file change failed", "file", w.path, "err", err)
				}
			})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.log.Errorw("file watcher error", "err", err)
		}
	}
}

// Stop ends Run, cancels a pending callback and releases the fsnotify
// handle.  It is safe to call more than once and before Run.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	running := w.running
	w.mu.Unlock()

	close(w.stopCh)
	if running {
		<-w.doneCh
	}
	w.debounce.Stop()

	if err := w.fs.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return filepath.Base(ev.Name) == w.name
}

/*──────────────────────────── debouncer ───────────────────────────────────*/

// Debouncer runs the most recent callback once the interval passes without
// a new Trigger.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger (re)starts the quiet period with callback as the pending action.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	cb := d.callback
	d.callback = nil
	stopped := d.stopped
	d.mu.Unlock()

	if cb != nil && !stopped {
		cb()
	}
}

// Stop cancels any pending callback.  Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
