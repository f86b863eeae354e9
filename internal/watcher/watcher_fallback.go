package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fallbackBackend implements Backend using fsnotify. It cannot pair renames,
// so a move is reported as a removal of the old name and a creation of the new.
type fallbackBackend struct {
	logger  *slog.Logger
	opts    Options
	watcher *fsnotify.Watcher

	roots map[string]struct{}
	dirs  map[string]struct{} // watched directories
	mu    sync.RWMutex

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// newFallbackBackend creates a fallback backend using fsnotify
func newFallbackBackend(logger *slog.Logger, opts Options) (Backend, error) {
	watcher, err := fsnotify.NewBufferedWatcher(uint(opts.BufferSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &fallbackBackend{
		logger:  logger,
		opts:    opts,
		watcher: watcher,
		roots:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
		events:  make(chan Event, opts.BufferSize),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a directory tree to be monitored
func (b *fallbackBackend) Watch(path string) error {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	if err := b.addWatch(path); err != nil {
		return err
	}

	b.mu.Lock()
	b.roots[path] = struct{}{}
	b.mu.Unlock()

	b.watchDir(path)
	return nil
}

// watchDir recursively watches a directory
func (b *fallbackBackend) watchDir(path string) {
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			b.logger.Warn("failed to access path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if p != path && b.opts.shouldSkip(p) {
			return filepath.SkipDir
		}

		if err := b.addWatch(p); err != nil {
			b.logger.Warn("failed to add watch", "path", p, "error", err)
		}
		return nil
	})
}

func (b *fallbackBackend) addWatch(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.dirs[path]; ok {
		return nil
	}
	if err := b.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to add watch: %w", err)
	}
	b.dirs[path] = struct{}{}
	b.logger.Debug("added watch", "path", path)
	return nil
}

// forgetTree drops watches at and below path.
func (b *fallbackBackend) forgetTree(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	prefix := path + string(filepath.Separator)
	for p := range b.dirs {
		if p == path || strings.HasPrefix(p, prefix) {
			_ = b.watcher.Remove(p)
			delete(b.dirs, p)
			found = true
		}
	}
	return found
}

// Start begins watching for events
func (b *fallbackBackend) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.processEvents(ctx)

	select {
	case <-ctx.Done():
	case <-b.done:
	}
	return nil
}

// processEvents processes fsnotify events
func (b *fallbackBackend) processEvents(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handleFsnotifyEvent(event)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				b.logger.Warn("fsnotify queue overflowed")
				b.emitEvent(Event{Type: EventOverflow})
				continue
			}
			select {
			case b.errors <- err:
			case <-b.done:
				return
			}
		}
	}
}

// handleFsnotifyEvent translates one fsnotify event.
func (b *fallbackBackend) handleFsnotifyEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	b.mu.RLock()
	_, isRoot := b.roots[path]
	b.mu.RUnlock()

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		isDir := err == nil && info.IsDir()
		if isDir && !b.opts.shouldSkip(path) {
			b.watchDir(path)
		}
		b.emitEvent(Event{Type: EventAdded, Path: path, IsDir: isDir})

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		wasDir := b.forgetTree(path)
		b.emitEvent(Event{Type: EventRemoved, Path: path, IsDir: wasDir || isRoot})

	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		if isRoot {
			return
		}
		b.emitEvent(Event{Type: EventModified, Path: path})
	}
}

// emitEvent sends an event to the events channel
func (b *fallbackBackend) emitEvent(event Event) {
	select {
	case b.events <- event:
	case <-b.done:
	}
}

// Events returns the events channel
func (b *fallbackBackend) Events() <-chan Event {
	return b.events
}

// Errors returns the errors channel
func (b *fallbackBackend) Errors() <-chan error {
	return b.errors
}

// Stop stops the watcher
func (b *fallbackBackend) Stop() error {
	close(b.done)

	err := b.watcher.Close()

	b.wg.Wait()

	close(b.events)
	close(b.errors)

	return err
}
