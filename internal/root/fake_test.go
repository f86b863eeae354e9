package root

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/crawler"
	"github.com/treewatch/treewatch/internal/watcher"
)

// fakeSource is a scripted event source. Tests emit events by hand; cookie
// files are reported on their own by polling the root directory.
type fakeSource struct {
	mu   sync.Mutex
	subs map[string]*fakeSub
	err  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string]*fakeSub)}
}

func (f *fakeSource) Subscribe(_ context.Context, path string) (watcher.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	s := &fakeSub{
		root:   path,
		events: make(chan watcher.Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pollCookies()
	f.subs[path] = s
	return s, nil
}

func (f *fakeSource) sub(t *testing.T, path string) *fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[path]
	require.True(t, ok, "no subscription for %s", path)
	return s
}

type fakeSub struct {
	root   string
	events chan watcher.Event
	errs   chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	mu     sync.Mutex // serializes sends with cookie reports
	closed bool
}

func (s *fakeSub) Events() <-chan watcher.Event { return s.events }
func (s *fakeSub) Errors() <-chan error         { return s.errs }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

func (s *fakeSub) emit(ev watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *fakeSub) pollCookies() {
	defer s.wg.Done()

	reported := make(map[string]bool)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		entries, err := os.ReadDir(s.root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasPrefix(e.Name(), crawler.CookiePrefix) || reported[e.Name()] {
				continue
			}
			reported[e.Name()] = true
			s.emit(watcher.Event{Type: watcher.EventAdded, Path: filepath.Join(s.root, e.Name())})
		}
	}
}

// harness wires a root to a fake source.
type harness struct {
	t      *testing.T
	dir    string
	source *fakeSource
	root   *Root
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testConfig(source EventSource) Config {
	return Config{
		Crawler:       crawler.New(testLogger(), crawler.Options{}),
		Source:        source,
		Epochs:        clock.NewEpochSourceAt(100),
		SettleTimeout: 5 * time.Second,
	}
}

func newHarness(t *testing.T, files ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		writeFile(t, dir, f)
	}

	source := newFakeSource()
	r, err := Open(context.Background(), testLogger(), dir, testConfig(source))
	require.NoError(t, err)
	t.Cleanup(r.Stop)

	h := &harness{t: t, dir: r.Path(), source: source, root: r}
	<-r.Ready()
	return h
}

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
}

func (h *harness) abs(name string) string {
	return filepath.Join(h.dir, filepath.FromSlash(name))
}

func (h *harness) emit(typ watcher.EventType, name string) {
	h.source.sub(h.t, h.dir).emit(watcher.Event{Type: typ, Path: h.abs(name)})
}

func (h *harness) emitMove(from, to string) {
	h.source.sub(h.t, h.dir).emit(watcher.Event{Type: watcher.EventMoved, OldPath: h.abs(from), Path: h.abs(to)})
}

func (h *harness) emitOverflow() {
	h.source.sub(h.t, h.dir).emit(watcher.Event{Type: watcher.EventOverflow})
}

// since queries with a sync so every emitted event has been applied.
func (h *harness) since(spec string) Response {
	h.t.Helper()
	cursor, err := clock.ParseCursor(spec)
	require.NoError(h.t, err)
	resp, err := h.root.Since(context.Background(), cursor, QueryOptions{SyncTimeout: 5 * time.Second})
	require.NoError(h.t, err)
	return resp
}
