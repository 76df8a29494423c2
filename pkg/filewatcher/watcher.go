// Package filewatcher reports debounced changes to configuration files.
package filewatcher

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when WithDebounce is not given.
const DefaultDebounce = 300 * time.Millisecond

// ErrNothingToWatch is returned by Start when no file or pattern was given.
var ErrNothingToWatch = errors.New("filewatcher: nothing to watch")

// Change describes a settled change to one file.
type Change struct {
	Path    string
	Removed bool
}

// Watcher watches files for changes and calls back once they settle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	patterns map[string][]string
	logger   *slog.Logger
	debounce time.Duration

	callbacksMu sync.RWMutex
	callbacks   []func(Change)

	changesMu sync.Mutex
	changes   map[string]pending

	done     chan struct{}
	stopOnce sync.Once
}

type pending struct {
	at      time.Time
	removed bool
}

// New creates a Watcher. Nothing is watched until Start.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		files:    make(map[string]struct{}),
		patterns: make(map[string][]string),
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		changes:  make(map[string]pending),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnChange registers a callback. Callbacks run on the watcher goroutine.
func (w *Watcher) OnChange(callback func(Change)) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching.
func (w *Watcher) Start() error {
	dirs := w.dirs()
	if len(dirs) == 0 {
		return ErrNothingToWatch
	}
	for _, dir := range dirs {
		w.logger.Info("Watching directory", "dir", dir)
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}

	go w.watchLoop()
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) dirs() []string {
	set := make(map[string]struct{})
	for f := range w.files {
		set[filepath.Dir(f)] = struct{}{}
	}
	for d := range w.patterns {
		set[d] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) watchLoop() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !w.matches(name) {
				continue
			}
			w.changesMu.Lock()
			w.changes[name] = pending{
				at:      time.Now(),
				removed: event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename),
			}
			w.changesMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		case <-ticker.C:
			w.processChanges()
		}
	}
}

func (w *Watcher) processChanges() {
	var ready []Change
	now := time.Now()

	w.changesMu.Lock()
	for file, p := range w.changes {
		if now.Sub(p.at) >= w.debounce {
			ready = append(ready, Change{Path: file, Removed: p.removed})
			delete(w.changes, file)
		}
	}
	w.changesMu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].Path < ready[j].Path })
	for _, ch := range ready {
		w.logger.Info("File changed", "file", ch.Path, "removed", ch.Removed)
		w.notify(ch)
	}
}

func (w *Watcher) notify(ch Change) {
	w.callbacksMu.RLock()
	defer w.callbacksMu.RUnlock()
	for _, cb := range w.callbacks {
		cb(ch)
	}
}

func (w *Watcher) matches(file string) bool {
	if _, ok := w.files[file]; ok {
		return true
	}
	base := filepath.Base(file)
	for _, pattern := range w.patterns[filepath.Dir(file)] {
		matched, err := filepath.Match(pattern, base)
		if err != nil {
			w.logger.Error("Pattern match error", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
