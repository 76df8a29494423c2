package filewatcher

import (
	"log/slog"
	"path/filepath"
	"time"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithFiles watches the given files. Their directories are watched so that
// editors that save by renaming over the file are still seen.
func WithFiles(paths ...string) Option {
	return func(w *Watcher) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				abs = filepath.Clean(p)
			}
			w.files[abs] = struct{}{}
		}
	}
}

// WithPatterns also reports any file in a watched directory whose base name
// matches one of the glob patterns.
func WithPatterns(dir string, patterns ...string) Option {
	return func(w *Watcher) {
		if dir == "" || len(patterns) == 0 {
			return
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = filepath.Clean(dir)
		}
		w.patterns[abs] = append(w.patterns[abs], patterns...)
	}
}

// WithDebounce sets how long a file must be quiet before it is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}
