package root

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/treewatch/treewatch/internal/clock"
)

// CursorStore maps cursor names to the last clock returned under that name.
// Calls under one name are serialized; different names never contend beyond
// the map lookup.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]*namedCursor
}

type namedCursor struct {
	mu    sync.Mutex
	clock clock.Clock
	set   atomic.Bool
}

// NewCursorStore creates an empty store.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[string]*namedCursor)}
}

// acquire returns the cursor for name, created lazily, with its lock held.
// The caller must call release.
func (s *CursorStore) acquire(name string) *namedCursor {
	s.mu.RLock()
	c, ok := s.cursors[name]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		if c, ok = s.cursors[name]; !ok {
			c = &namedCursor{}
			s.cursors[name] = c
		}
		s.mu.Unlock()
	}

	c.mu.Lock()
	return c
}

func (c *namedCursor) release() {
	c.mu.Unlock()
}

func (c *namedCursor) get() (clock.Clock, bool) {
	return c.clock, c.set.Load()
}

func (c *namedCursor) store(ck clock.Clock) {
	c.clock = ck
	c.set.Store(true)
}

// Get returns the clock stored under name. It waits for any in-flight query
// under that name.
func (s *CursorStore) Get(name string) (clock.Clock, bool) {
	s.mu.RLock()
	_, ok := s.cursors[name]
	s.mu.RUnlock()
	if !ok {
		return clock.Clock{}, false
	}

	c := s.acquire(name)
	defer c.release()
	return c.get()
}

// Names returns the known cursor names, sorted.
func (s *CursorStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.cursors))
	for name, c := range s.cursors {
		if c.set.Load() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
