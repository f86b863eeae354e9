// Package watcher turns platform change notifications into a portable event
// stream for one directory tree.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// Watcher monitors one directory tree.
type Watcher struct {
	backend Backend
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a new file watcher.
// The backend is chosen by opts.Backend; "auto" uses inotify on Linux (move
// pairing, overflow detection) and fsnotify everywhere else.
func New(logger *slog.Logger, opts Options) (*Watcher, error) {
	opts.setDefaults()

	backendName := opts.Backend
	if backendName == BackendAuto {
		backendName = BackendFsnotify
		if runtime.GOOS == "linux" {
			backendName = BackendInotify
		}
	}

	var backend Backend
	var err error

	switch backendName {
	case BackendInotify:
		backend, err = newLinuxBackend(logger, opts)
	case BackendFsnotify:
		backend, err = newFallbackBackend(logger, opts)
	default:
		return nil, fmt.Errorf("unknown watcher backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	logger.Debug("created watcher backend", "backend", backendName, "platform", runtime.GOOS)

	return &Watcher{
		backend: backend,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a directory tree to be monitored.
func (w *Watcher) Watch(path string) error {
	return w.backend.Watch(path)
}

// Start begins watching for events
// This method blocks until the context is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	return w.backend.Start(ctx)
}

// Stop stops the watcher and releases resources
func (w *Watcher) Stop() error {
	return w.backend.Stop()
}

// Events returns the channel for receiving file system events
func (w *Watcher) Events() <-chan Event {
	return w.backend.Events()
}

// Errors returns the channel for receiving errors
func (w *Watcher) Errors() <-chan error {
	return w.backend.Errors()
}

// Close stops a watcher started by Source.Subscribe. It is safe to call more
// than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		err = w.backend.Stop()
	})
	return err
}

// Subscription is a live event stream for one root.
type Subscription interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Source hands out one watcher per subscribed root.
type Source struct {
	logger *slog.Logger
	opts   Options
}

// NewSource creates an event source that builds watchers with opts.
func NewSource(logger *slog.Logger, opts Options) *Source {
	return &Source{logger: logger, opts: opts}
}

// Subscribe starts watching root and returns its event stream. The watches
// are in place when Subscribe returns.
func (s *Source) Subscribe(ctx context.Context, root string) (Subscription, error) {
	w, err := New(s.logger.With("root", root), s.opts)
	if err != nil {
		return nil, err
	}

	if err := w.Watch(root); err != nil {
		_ = w.backend.Stop()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	go func() {
		defer close(w.done)
		if err := w.Start(runCtx); err != nil {
			w.logger.Error("watcher stopped", "error", err)
		}
	}()

	return w, nil
}
