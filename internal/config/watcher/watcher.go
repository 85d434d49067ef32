// Package watcher reports changes below configuration directories.
//
// Each watched root has its own handler. Events below a root are
// debounced: a burst of writes produces one Batch once the root has been
// quiet for the debounce delay. Sub-directories are watched recursively,
// including ones created later. Hidden entries are ignored.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("root is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrNotDirectory    = errors.New("path is not a directory")
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 200 * time.Millisecond

// Batch is a debounced set of changes below one root.
type Batch struct {
	// Root is the watched root, as passed to Add.
	Root string

	// Paths are the changed paths, sorted and unique.
	Paths []string
}

// Handler is called with each batch. Handlers for different roots may run
// concurrently; batches for the same root are delivered in order.
type Handler func(Batch)

type root struct {
	path    string // absolute
	name    string // as added
	handler Handler

	// guarded by Watcher.mu
	pending map[string]struct{}
	timer   *time.Timer

	deliver sync.Mutex
}

// Watcher watches directory trees with fsnotify.
type Watcher struct {
	fsw    *fsnotify.Watcher
	delay  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	roots  []*root
	dirs   map[string]bool
	closed bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	w := &Watcher{
		fsw:     fsw,
		delay:   DefaultDebounce,
		logger:  slog.Default(),
		dirs:    make(map[string]bool),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "config-watcher")

	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Add watches dir and every non-hidden directory below it, calling
// handler with debounced batches of changes.
func (w *Watcher) Add(dir string, handler Handler) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("watcher: %s: %w", dir, ErrPathNotExist)
		}
		return fmt.Errorf("watcher: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watcher: %s: %w", dir, ErrNotDirectory)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	for _, r := range w.roots {
		if r.path == abs {
			w.mu.Unlock()
			return fmt.Errorf("watcher: %s: %w", dir, ErrAlreadyWatching)
		}
	}
	w.roots = append(w.roots, &root{
		path:    abs,
		name:    dir,
		handler: handler,
		pending: make(map[string]struct{}),
	})
	w.mu.Unlock()

	return w.watchTree(abs)
}

// Roots returns the watched roots, as added.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, len(w.roots))
	for i, r := range w.roots {
		names[i] = r.name
	}
	return names
}

// Flush delivers every pending batch immediately.
func (w *Watcher) Flush() {
	w.mu.Lock()
	roots := slices.Clone(w.roots)
	w.mu.Unlock()

	for _, r := range roots {
		w.fire(r)
	}
}

// Close stops the watcher. Pending batches are dropped. It is safe to call
// Close multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for _, r := range w.roots {
		if r.timer != nil {
			r.timer.Stop()
		}
		clear(r.pending)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && hidden(p) {
			return filepath.SkipDir
		}
		if err := w.watchDir(p); err != nil {
			if p == dir {
				return fmt.Errorf("watcher: %w", err)
			}
			w.logger.Warn("cannot watch directory", "dir", p, "error", err)
		}
		return nil
	})
}

func (w *Watcher) watchDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// Permission changes never alter configuration contents.
	if ev.Op == fsnotify.Chmod || ev.Name == "" || hidden(ev.Name) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "dir", ev.Name, "error", err)
			}
		}
	}
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.dirs, ev.Name)
		w.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	r := w.rootFor(ev.Name)
	if r == nil {
		return
	}
	r.pending[ev.Name] = struct{}{}
	if r.timer == nil {
		r.timer = time.AfterFunc(w.delay, func() { w.fire(r) })
	} else {
		r.timer.Reset(w.delay)
	}
	w.logger.Debug("change queued", "root", r.name, "path", ev.Name, "op", ev.Op.String())
}

// rootFor returns the most specific root containing path. Callers hold mu.
func (w *Watcher) rootFor(path string) *root {
	var best *root
	for _, r := range w.roots {
		if !within(r.path, path) {
			continue
		}
		if best == nil || len(r.path) > len(best.path) {
			best = r
		}
	}
	return best
}

func (w *Watcher) fire(r *root) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	w.mu.Lock()
	if w.closed || len(r.pending) == 0 {
		w.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	paths := make([]string, 0, len(r.pending))
	for p := range r.pending {
		paths = append(paths, p)
	}
	clear(r.pending)
	w.mu.Unlock()

	slices.Sort(paths)
	w.safeCall(r, Batch{Root: r.name, Paths: paths})
}

func (w *Watcher) safeCall(r *root, b Batch) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("watch handler panicked", "root", r.name, "panic", rec)
		}
	}()
	if r.handler != nil {
		r.handler(b)
	}
}

func within(dir, path string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
