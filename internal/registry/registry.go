// Package registry owns the set of watched roots for the lifetime of the
// daemon and keeps the persisted watch list in step with it.
package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/root"
	"github.com/treewatch/treewatch/internal/store"
)

// restoreConcurrency bounds how many roots are crawled at once on startup.
const restoreConcurrency = 4

// Store persists the watch list and the epoch floor.
type Store interface {
	PutRoot(ctx context.Context, path string) error
	DeleteRoot(ctx context.Context, path string) error
	ListRoots(ctx context.Context) ([]store.RootRecord, error)
	EpochFloor(ctx context.Context) (uint64, error)
	SetEpochFloor(ctx context.Context, epoch uint64) error
}

// Registry maps canonical root paths to running roots.
type Registry struct {
	logger *slog.Logger
	cfg    root.Config
	store  Store // nil disables persistence

	mu     sync.RWMutex
	roots  map[string]*root.Root
	closed bool
}

// New creates a registry. When st is non-nil, epochs continue above the
// highest epoch a previous process recorded.
func New(ctx context.Context, logger *slog.Logger, cfg root.Config, st Store) (*Registry, error) {
	if cfg.Epochs == nil {
		seed := uint64(time.Now().Unix()) //nolint:gosec // unix time is positive
		if st != nil {
			floor, err := st.EpochFloor(ctx)
			if err != nil {
				return nil, err
			}
			seed = max(seed, floor)
		}
		cfg.Epochs = clock.NewEpochSourceAt(seed)
	}

	return &Registry{
		logger: logger,
		cfg:    cfg,
		store:  st,
		roots:  make(map[string]*root.Root),
	}, nil
}

// Watch starts watching path. Watching an already watched root returns the
// existing root; a root that has failed is replaced by a fresh attempt.
func (reg *Registry) Watch(ctx context.Context, path string) (*root.Root, error) {
	resolved, err := root.Resolve(path)
	if err != nil {
		return nil, err
	}

	if r, ok := reg.live(resolved); ok {
		return r, nil
	}

	// Subscribing walks the tree to install watches, so it runs unlocked.
	r, err := root.Open(ctx, reg.logger, resolved, reg.cfg)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		r.Stop()
		return nil, errors.Internal("registry is shutting down")
	}
	existing, ok := reg.roots[resolved]
	if ok && existing.State() != root.StateFailed {
		// Lost a race with a concurrent watch of the same path.
		reg.mu.Unlock()
		r.Stop()
		return existing, nil
	}
	reg.roots[resolved] = r
	reg.mu.Unlock()

	if ok {
		reg.logger.Info("replaced failed root", "root", resolved, "error", existing.Err())
		existing.Stop()
	}

	reg.persist(ctx, resolved)
	return r, nil
}

// live returns the running root at resolved, unless it has failed.
func (reg *Registry) live(resolved string) (*root.Root, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.roots[resolved]
	if !ok || r.State() == root.StateFailed {
		return nil, false
	}
	return r, true
}

// Unwatch stops watching the root at path and forgets it.
func (reg *Registry) Unwatch(ctx context.Context, path string) (string, error) {
	reg.mu.Lock()
	key, r, ok := reg.lookupLocked(path)
	if ok {
		delete(reg.roots, key)
	}
	reg.mu.Unlock()

	if !ok {
		return "", errors.UnknownRoot(path)
	}

	r.Stop()
	if reg.store != nil {
		if err := reg.store.DeleteRoot(ctx, key); err != nil {
			reg.logger.Warn("failed to forget root", "root", key, "error", err)
		}
	}
	return key, nil
}

// Get returns the root watching path.
func (reg *Registry) Get(path string) (*root.Root, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	_, r, ok := reg.lookupLocked(path)
	if !ok {
		return nil, errors.UnknownRoot(path)
	}
	return r, nil
}

// List returns every watched root ordered by path.
func (reg *Registry) List() []root.Info {
	reg.mu.RLock()
	infos := make([]root.Info, 0, len(reg.roots))
	for _, r := range reg.roots {
		infos = append(infos, r.Info())
	}
	reg.mu.RUnlock()

	slices.SortFunc(infos, func(a, b root.Info) int {
		return strings.Compare(a.Path, b.Path)
	})
	return infos
}

// Len returns the number of watched roots.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.roots)
}

// lookupLocked finds the root for path. The literal cleaned path is tried
// first so a root whose directory has vanished can still be addressed.
func (reg *Registry) lookupLocked(path string) (string, *root.Root, bool) {
	if abs, err := filepath.Abs(path); err == nil {
		if r, ok := reg.roots[abs]; ok {
			return abs, r, true
		}
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			if r, ok := reg.roots[abs]; ok {
				return abs, r, true
			}
		}
	}
	return "", nil, false
}

func (reg *Registry) persist(ctx context.Context, path string) {
	if reg.store == nil {
		return
	}
	if err := reg.store.PutRoot(ctx, path); err != nil {
		reg.logger.Warn("failed to record root", "root", path, "error", err)
	}
	reg.saveEpochFloor(ctx)
}

func (reg *Registry) saveEpochFloor(ctx context.Context) {
	if err := reg.store.SetEpochFloor(ctx, reg.cfg.Epochs.Last()); err != nil {
		reg.logger.Warn("failed to record epoch floor", "error", err)
	}
}

// Restore re-watches every root recorded by a previous process. Roots that
// can no longer be watched are dropped from the store.
func (reg *Registry) Restore(ctx context.Context) error {
	if reg.store == nil {
		return nil
	}

	records, err := reg.store.ListRoots(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)

	for _, rec := range records {
		g.Go(func() error {
			if _, err := reg.Watch(gctx, rec.Path); err != nil {
				reg.logger.Warn("dropping root that could not be restored", "root", rec.Path, "error", err)
				if err := reg.store.DeleteRoot(gctx, rec.Path); err != nil {
					reg.logger.Warn("failed to forget root", "root", rec.Path, "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	reg.logger.Info("restored watched roots", "count", reg.Len(), "recorded", len(records))
	return nil
}

// Shutdown stops every root in parallel. The persisted watch list is left
// intact so the next process can restore it.
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.mu.Lock()
	reg.closed = true
	roots := make([]*root.Root, 0, len(reg.roots))
	for _, r := range reg.roots {
		roots = append(roots, r)
	}
	clear(reg.roots)
	reg.mu.Unlock()

	var g errgroup.Group
	for _, r := range roots {
		g.Go(func() error {
			r.Stop()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if reg.store != nil {
		reg.saveEpochFloor(ctx)
	}
	reg.logger.Info("stopped all roots", "count", len(roots))
	return nil
}
