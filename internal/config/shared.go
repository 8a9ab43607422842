package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Shared is a copy-on-write snapshot handle: every component holds one and
// calls Load() per operation rather than reacting to a reload signal
// directly, so config changes take effect without any component needing
// its own invalidation logic.
type Shared struct {
	ptr    atomic.Pointer[Config]
	path   string
	logger *slog.Logger
}

// NewShared wraps an already-loaded Config in a Shared handle.
func NewShared(path string, initial *Config, logger *slog.Logger) *Shared {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Shared{path: path, logger: logger}
	s.ptr.Store(initial)
	return s
}

// Load returns the current config snapshot.
func (s *Shared) Load() *Config { return s.ptr.Load() }

// reload re-reads s.path, validates it against the current snapshot via
// ValidateForReload, and swaps the pointer only on success. A rejected
// reload is logged and leaves the current config in place — never a
// user-visible effect beyond the log line.
func (s *Shared) reload() {
	candidate, err := Load(s.path)
	if err != nil {
		s.logger.Warn("config hot-reload failed to parse", "path", s.path, "error", err)
		return
	}
	current := s.ptr.Load()
	if err := ValidateForReload(current, candidate); err != nil {
		s.logger.Warn("config hot-reload rejected", "path", s.path, "error", err)
		return
	}
	s.ptr.Store(candidate)
	s.logger.Info("config hot-reloaded", "path", s.path)
}

// Watch starts a debounced fsnotify watch on s.path, reloading on every
// write/create/rename event until ctx is done. The returned error is only
// from the initial watcher setup; per-event reload failures are logged,
// not returned.
func (s *Shared) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: start watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", s.path, err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Shared) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, s.reload)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watch error", "error", err)
		}
	}
}
