//go:build linux

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
	"unsafe"

	"golang.org/x/sys/unix"
)

// watchMask covers every change that can alter a path's observable state.
const watchMask = unix.IN_ATTRIB | unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
	unix.IN_MODIFY | unix.IN_CLOSE_WRITE | unix.IN_MOVE_SELF | unix.IN_MOVED_FROM |
	unix.IN_MOVED_TO | unix.IN_DONT_FOLLOW | unix.IN_ONLYDIR | unix.IN_EXCL_UNLINK

// pollTimeoutMs bounds how long the reader waits before rechecking for shutdown.
const pollTimeoutMs = 100

// pairTimeoutMs is how long an unpaired MOVED_FROM waits for its MOVED_TO
// when the read that carried it ended first. The kernel queues both halves
// together, so the partner is normally ready at once.
const pairTimeoutMs = 10

// linuxBackend implements Backend using Linux inotify.
type linuxBackend struct {
	logger  *slog.Logger
	roots   map[string]struct{}
	watches map[string]int
	wdPaths map[int]string
	events  chan Event
	errors  chan error
	done    chan struct{}
	opts    Options
	wg      sync.WaitGroup
	fd      int
	mu      sync.RWMutex

	// pending is owned by the reader goroutine. It survives across reads so a
	// move split over two buffers is still paired.
	pending *pendingMove
}

// pendingMove is a MOVED_FROM waiting for its MOVED_TO partner.
type pendingMove struct {
	cookie uint32
	path   string
	isDir  bool
}

// newLinuxBackend creates a new Linux-specific file watcher backend.
func newLinuxBackend(logger *slog.Logger, opts Options) (Backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	return &linuxBackend{
		logger:  logger,
		opts:    opts,
		fd:      fd,
		roots:   make(map[string]struct{}),
		watches: make(map[string]int),
		wdPaths: make(map[int]string),
		events:  make(chan Event, opts.BufferSize),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a directory tree to be monitored.
func (b *linuxBackend) Watch(path string) error {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	// The root watch must succeed; failures deeper in the tree are logged.
	if err := b.addWatch(path); err != nil {
		return err
	}

	b.mu.Lock()
	b.roots[path] = struct{}{}
	b.mu.Unlock()

	b.watchDir(path)
	return nil
}

// watchDir recursively watches a directory.
func (b *linuxBackend) watchDir(path string) {
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

// addWatch adds an inotify watch for a path.
func (b *linuxBackend) addWatch(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.watches[path]; exists {
		return nil
	}

	wd, err := unix.InotifyAddWatch(b.fd, path, uint32(watchMask))
	if err != nil {
		return fmt.Errorf("inotify_add_watch failed: %w", err)
	}

	// The kernel reuses the descriptor when the same inode is watched twice.
	if old, ok := b.wdPaths[wd]; ok {
		delete(b.watches, old)
	}
	b.watches[path] = wd
	b.wdPaths[wd] = path
	b.logger.Debug("added watch", "path", path, "wd", wd)

	return nil
}

// forgetTree drops bookkeeping for path and every watch below it. The kernel
// removes the watches itself once the directories are gone.
func (b *linuxBackend) forgetTree(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for p, wd := range b.watches {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(b.watches, p)
			delete(b.wdPaths, wd)
		}
	}
}

// renameTree rewrites watch paths after a directory moved within the tree.
func (b *linuxBackend) renameTree(oldPath, newPath string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := oldPath + string(filepath.Separator)
	for p, wd := range b.watches {
		if p != oldPath && !strings.HasPrefix(p, prefix) {
			continue
		}
		moved := newPath + p[len(oldPath):]
		delete(b.watches, p)
		b.watches[moved] = wd
		b.wdPaths[wd] = moved
	}
}

func (b *linuxBackend) isRoot(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.roots[path]
	return ok
}

// Start begins watching for events.
func (b *linuxBackend) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.readEvents(ctx)

	select {
	case <-ctx.Done():
	case <-b.done:
	}
	return nil
}

// readEvents reads events from inotify.
func (b *linuxBackend) readEvents(ctx context.Context) {
	defer b.wg.Done()

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	//nolint:gosec // G115: fd is a small non-negative int from inotify_init1
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		default:
		}

		timeout := pollTimeoutMs
		if b.pending != nil {
			timeout = pairTimeoutMs
		}

		ready, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			b.emitError(fmt.Errorf("failed to poll inotify: %w", err))
			return
		}
		if ready == 0 {
			// Nothing followed the MOVED_FROM: it left the watched tree.
			b.flushPending()
			continue
		}

		n, err := unix.Read(b.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			b.emitError(fmt.Errorf("failed to read inotify events: %w", err))
			return
		}

		if n < unix.SizeofInotifyEvent {
			continue
		}

		b.parseEvents(buf[:n])
	}
}

// parseEvents parses raw inotify events. A MOVED_FROM immediately followed
// by the MOVED_TO with the same cookie is reported as one move, even when the
// two arrive in different reads. A MOVED_FROM at the end of buf stays pending.
func (b *linuxBackend) parseEvents(buf []byte) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		//nolint:gosec // G103: Legitimate use of unsafe for syscall interface with inotify
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameEnd := offset + unix.SizeofInotifyEvent + int(raw.Len)
		if nameEnd > len(buf) {
			break
		}

		name := ""
		if raw.Len > 0 {
			nameBytes := buf[offset+unix.SizeofInotifyEvent : nameEnd]
			name = string(nameBytes[:clen(nameBytes)])
		}
		offset = nameEnd

		mask := raw.Mask
		if mask&unix.IN_Q_OVERFLOW != 0 {
			b.flushPending()
			b.logger.Warn("inotify queue overflowed")
			b.emitEvent(Event{Type: EventOverflow})
			continue
		}

		b.mu.RLock()
		dir, ok := b.wdPaths[int(raw.Wd)]
		b.mu.RUnlock()

		if mask&unix.IN_IGNORED != 0 {
			if ok {
				b.mu.Lock()
				if b.watches[dir] == int(raw.Wd) {
					delete(b.watches, dir)
				}
				delete(b.wdPaths, int(raw.Wd))
				b.mu.Unlock()
			}
			continue
		}
		if !ok {
			continue
		}

		path := dir
		if name != "" {
			path = filepath.Join(dir, name)
		}
		isDir := mask&unix.IN_ISDIR != 0

		if mask&unix.IN_MOVED_TO != 0 && b.pending != nil && b.pending.cookie == raw.Cookie {
			from := b.pending
			b.pending = nil
			if from.isDir {
				b.renameTree(from.path, path)
			}
			b.emitEvent(Event{Type: EventMoved, Path: path, OldPath: from.path, IsDir: isDir})
			continue
		}
		b.flushPending()

		if mask&unix.IN_MOVED_FROM != 0 {
			b.pending = &pendingMove{cookie: raw.Cookie, path: path, isDir: isDir}
			continue
		}

		b.processEvent(path, name, mask)
	}
}

// flushPending reports an unpaired MOVED_FROM as a removal.
func (b *linuxBackend) flushPending() {
	from := b.pending
	if from == nil {
		return
	}
	b.pending = nil
	if from.isDir {
		b.forgetTree(from.path)
	}
	b.emitEvent(Event{Type: EventRemoved, Path: from.path, IsDir: from.isDir})
}

// processEvent processes a single inotify event.
func (b *linuxBackend) processEvent(path, name string, mask uint32) {
	isDir := mask&unix.IN_ISDIR != 0

	// Events about a watched directory itself only matter for the root.
	if name == "" {
		if mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF|unix.IN_UNMOUNT) != 0 && b.isRoot(path) {
			b.logger.Debug("root went away", "path", path, "mask", mask)
			b.emitEvent(Event{Type: EventRemoved, Path: path, IsDir: true})
		}
		return
	}

	switch {
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		if isDir && !b.opts.shouldSkip(path) {
			b.watchDir(path)
		}
		b.emitEvent(Event{Type: EventAdded, Path: path, IsDir: isDir})

	case mask&unix.IN_DELETE != 0:
		if isDir {
			b.forgetTree(path)
		}
		b.emitEvent(Event{Type: EventRemoved, Path: path, IsDir: isDir})

	case mask&(unix.IN_MODIFY|unix.IN_ATTRIB|unix.IN_CLOSE_WRITE) != 0:
		b.emitEvent(Event{Type: EventModified, Path: path, IsDir: isDir})
	}
}

// emitEvent sends an event to the events channel. It blocks while the
// consumer is behind; the kernel queue overflows instead of events vanishing.
func (b *linuxBackend) emitEvent(event Event) {
	select {
	case b.events <- event:
	case <-b.done:
	}
}

func (b *linuxBackend) emitError(err error) {
	select {
	case b.errors <- err:
	case <-b.done:
	}
}

// Events returns the events channel.
func (b *linuxBackend) Events() <-chan Event {
	return b.events
}

// Errors returns the errors channel.
func (b *linuxBackend) Errors() <-chan error {
	return b.errors
}

// Stop stops the watcher.
func (b *linuxBackend) Stop() error {
	close(b.done)

	b.wg.Wait()

	var closeErr error
	if b.fd >= 0 {
		closeErr = unix.Close(b.fd)
	}

	close(b.events)
	close(b.errors)

	return closeErr
}

// clen returns the length of a null-terminated byte slice.
func clen(n []byte) int {
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}
