// Package root runs the watch engine for one directory tree: the initial
// crawl and settle, live notification ingest, recrawl after lost events,
// retention, and the cursor queries served on top of the journal.
package root

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/crawler"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/journal"
	"github.com/treewatch/treewatch/internal/watcher"
)

// EventSource delivers change notifications for a directory tree.
type EventSource interface {
	Subscribe(ctx context.Context, path string) (watcher.Subscription, error)
}

// Limiter paces recrawls per root path.
type Limiter interface {
	Wait(ctx context.Context, key string) error
	Forget(key string)
}

// Config holds the collaborators and tunables shared by every root.
type Config struct {
	Crawler *crawler.Crawler
	Source  EventSource
	Epochs  *clock.EpochSource
	Limiter Limiter // optional

	// MaxAge is how long journal history is retained. Zero keeps everything.
	MaxAge time.Duration
	// PruneInterval is how often retention runs.
	PruneInterval time.Duration
	// SettleTimeout bounds how long queries wait for the initial crawl, and
	// how long the crawl waits for its settle cookie.
	SettleTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Epochs == nil {
		c.Epochs = clock.NewEpochSource()
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 5 * time.Minute
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 30 * time.Second
	}
}

// Root is one watched directory tree.
type Root struct {
	path    string
	logger  *slog.Logger
	cfg     Config
	crawler *crawler.Crawler

	journal *journal.Journal
	cursors *CursorStore
	waiter  *Waiter
	sub     watcher.Subscription

	// epochMu orders epoch changes against queries, so a clock and the
	// entries returned with it always come from the same epoch.
	epochMu sync.RWMutex
	epoch   uint64

	state    atomic.Int32
	recrawls atomic.Uint64
	errMu    sync.Mutex
	err      error

	cookieMu sync.Mutex
	cookies  map[string]*cookie

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	createdAt time.Time
}

// Resolve turns a user supplied path into the canonical root path: absolute,
// symlinks resolved, and an accessible directory.
func Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.WatchFailure("path must not be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeWatchFailure, "unable to resolve root %s", path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeWatchFailure, "unable to resolve root %s", path)
	}

	dir, err := os.Open(resolved)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeWatchFailure, "unable to resolve root %s", path)
	}
	defer dir.Close()

	info, err := dir.Stat()
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeWatchFailure, "unable to resolve root %s", path)
	}
	if !info.IsDir() {
		return "", errors.WatchFailuref("unable to resolve root %s: not a directory", path)
	}
	return resolved, nil
}

// Open validates path, subscribes to its notifications and starts the root's
// goroutine. The initial crawl runs in the background; queries wait for it.
func Open(ctx context.Context, logger *slog.Logger, path string, cfg Config) (*Root, error) {
	cfg.setDefaults()

	resolved, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	sub, err := cfg.Source.Subscribe(ctx, resolved)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeWatchFailure, "unable to watch %s", resolved)
	}

	r := &Root{
		path:      resolved,
		logger:    logger.With("root", resolved),
		cfg:       cfg,
		crawler:   cfg.Crawler,
		journal:   journal.New(),
		cursors:   NewCursorStore(),
		waiter:    NewWaiter(),
		sub:       sub,
		epoch:     cfg.Epochs.Next(),
		cookies:   make(map[string]*cookie),
		ready:     make(chan struct{}),
		createdAt: time.Now(),
	}
	r.state.Store(int32(StateCrawling))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(runCtx)

	r.logger.Info("watching root", "epoch", r.epoch)
	return r, nil
}

// Path returns the canonical root path.
func (r *Root) Path() string {
	return r.path
}

// State returns the current lifecycle state.
func (r *Root) State() State {
	return State(r.state.Load())
}

// Err returns why the root failed, or nil.
func (r *Root) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Ready is closed once the initial crawl has settled or the root failed.
func (r *Root) Ready() <-chan struct{} {
	return r.ready
}

// Done is closed once the root reaches its terminal state.
func (r *Root) Done() <-chan struct{} {
	return r.waiter.Done()
}

// Recrawls returns how many full recrawls have run.
func (r *Root) Recrawls() uint64 {
	return r.recrawls.Load()
}

// Info is a point-in-time summary of a root.
type Info struct {
	Path      string
	State     State
	Clock     clock.Clock
	Files     int
	Recrawls  uint64
	CreatedAt time.Time
}

// Info returns a summary of the root without waiting for it to settle.
func (r *Root) Info() Info {
	return Info{
		Path:      r.path,
		State:     r.State(),
		Clock:     r.issueClock(),
		Files:     r.journal.Len(),
		Recrawls:  r.Recrawls(),
		CreatedAt: r.createdAt,
	}
}

// Stop moves the root to its terminal state, cancels any crawl in flight,
// detaches the subscription and wakes every waiter with Cancelled.
func (r *Root) Stop() {
	r.stopOnce.Do(func() {
		r.fail(errors.RootFailedf("root %s is no longer watched", r.path))
		r.wg.Wait()
		if r.cfg.Limiter != nil {
			r.cfg.Limiter.Forget(r.path)
		}
		r.logger.Info("stopped watching root")
	})
}

// fail records err (the first one wins) and tears the root down.
func (r *Root) fail(err error) {
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()

	r.state.Store(int32(StateFailed))
	r.waiter.Cancel()
	r.markReady()
	r.releaseCookies(time.Time{})
	r.cancel()
}

// setState moves to s unless the root has already failed.
func (r *Root) setState(s State) {
	for {
		cur := r.state.Load()
		if State(cur) == StateFailed || r.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (r *Root) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *Root) currentClock() clock.Clock {
	r.epochMu.RLock()
	defer r.epochMu.RUnlock()
	return clock.Clock{Epoch: r.epoch, Seq: r.journal.Tick()}
}

// issueClock is currentClock for a value handed to a caller, who may later
// use it as a cursor.
func (r *Root) issueClock() clock.Clock {
	r.epochMu.RLock()
	defer r.epochMu.RUnlock()
	return clock.Clock{Epoch: r.epoch, Seq: r.journal.ReadTick()}
}

// update applies fn to the journal and wakes waiters if anything changed.
func (r *Root) update(fn func(b *journal.Batch)) uint64 {
	seq := r.journal.Update(fn)
	if seq != 0 {
		r.waiter.Notify()
	}
	return seq
}

func (r *Root) run(ctx context.Context) {
	defer r.wg.Done()
	defer func() {
		if err := r.sub.Close(); err != nil {
			r.logger.Warn("failed to close event subscription", "error", err)
		}
	}()

	if !r.establish(ctx) {
		return
	}

	pruneTicker := time.NewTicker(r.cfg.PruneInterval)
	defer pruneTicker.Stop()

	events, errs := r.sub.Events(), r.sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				r.fail(errors.RootFailedf("event stream for %s closed", r.path))
				return
			}
			r.dispatch(ctx, ev, false)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("event source error", "error", err)

		case <-pruneTicker.C:
			r.prune()
		}
	}
}

// establish performs the initial crawl while buffering notifications, grafts
// the result at a single tick, then drains notifications up to a freshly
// written cookie before declaring the root ready.
func (r *Root) establish(ctx context.Context) bool {
	start := time.Now()

	stats, buffered, ok := r.crawlBuffering(ctx)
	if !ok {
		return false
	}

	seq := r.update(func(b *journal.Batch) {
		for _, st := range stats {
			b.Observe(st, false)
		}
	})
	r.logger.Info("initial crawl complete", "files", len(stats), "tick", seq, "duration", time.Since(start))

	ck, err := r.newCookie()
	if err != nil {
		r.logger.Warn("failed to write settle cookie, trusting notifications as they come", "error", err)
	}

	overflowed := false
	for _, ev := range buffered {
		if ev.Type == watcher.EventOverflow {
			overflowed = true
			continue
		}
		r.dispatch(ctx, ev, true)
	}

	if ck != nil {
		overflowed = r.settle(ctx, ck) || overflowed
		r.dropCookie(ck)
	}
	if ctx.Err() != nil {
		return false
	}

	if overflowed {
		r.logger.Warn("events overflowed during initial crawl, recrawling")
		r.recrawl(ctx)
	}

	r.setState(StateWatching)
	r.markReady()
	return r.State() != StateFailed
}

// settle applies notifications until the cookie is reported or the settle
// timeout passes. It reports whether an overflow was seen.
func (r *Root) settle(ctx context.Context, ck *cookie) bool {
	timer := time.NewTimer(r.cfg.SettleTimeout)
	defer timer.Stop()

	overflowed := false
	events := r.sub.Events()
	for {
		select {
		case <-ck.seen:
			return overflowed
		case ev, ok := <-events:
			if !ok {
				r.fail(errors.RootFailedf("event stream for %s closed", r.path))
				return overflowed
			}
			if ev.Type == watcher.EventOverflow {
				overflowed = true
				continue
			}
			r.dispatch(ctx, ev, true)
		case <-timer.C:
			r.logger.Warn("settle cookie not observed in time", "timeout", r.cfg.SettleTimeout)
			return overflowed
		case <-ctx.Done():
			return overflowed
		}
	}
}

type crawlResult struct {
	stats []journal.Stat
	err   error
}

// crawlBuffering walks the whole root while queueing notifications that
// arrive meanwhile, so the event source is never left blocked on us.
func (r *Root) crawlBuffering(ctx context.Context) ([]journal.Stat, []watcher.Event, bool) {
	done := make(chan crawlResult, 1)
	go func() {
		stats, err := r.crawler.Collect(ctx, r.path, "")
		done <- crawlResult{stats: stats, err: err}
	}()

	var buffered []watcher.Event
	events := r.sub.Events()
	for {
		select {
		case res := <-done:
			if res.err != nil {
				return nil, nil, false
			}
			return res.stats, buffered, true
		case ev, ok := <-events:
			if !ok {
				r.fail(errors.RootFailedf("event stream for %s closed", r.path))
				return nil, nil, false
			}
			buffered = append(buffered, ev)
		case <-ctx.Done():
			return nil, nil, false
		}
	}
}

// recrawl re-walks the whole root after notifications were lost, under a new
// epoch. Paths not re-observed are deleted; clocks from the old epoch get a
// fresh-instance answer afterwards.
func (r *Root) recrawl(ctx context.Context) {
	for {
		if r.cfg.Limiter != nil {
			if err := r.cfg.Limiter.Wait(ctx, r.path); err != nil {
				return
			}
		}

		r.setState(StateRecrawling)
		started := time.Now()

		stats, buffered, ok := r.crawlBuffering(ctx)
		if !ok {
			return
		}

		var changed, deleted int
		r.epochMu.Lock()
		r.epoch = r.cfg.Epochs.Next()
		r.journal.Update(func(b *journal.Batch) {
			changed, deleted = b.Reconcile("", stats)
		})
		epoch := r.epoch
		r.epochMu.Unlock()

		r.recrawls.Add(1)
		r.waiter.Notify()
		r.releaseCookies(started)

		overflowed := false
		for _, ev := range buffered {
			if ev.Type == watcher.EventOverflow {
				overflowed = true
				continue
			}
			r.dispatch(ctx, ev, true)
		}

		r.logger.Info("recrawl complete",
			"epoch", epoch,
			"files", len(stats),
			"changed", changed,
			"deleted", deleted,
			"duration", time.Since(started),
		)

		if !overflowed || ctx.Err() != nil {
			break
		}
		r.logger.Warn("events overflowed during recrawl, crawling again")
	}

	r.setState(StateWatching)
}

// prune drops history older than the retention window.
func (r *Root) prune() {
	if r.cfg.MaxAge <= 0 {
		return
	}
	horizon := r.journal.HorizonBefore(time.Now().Add(-r.cfg.MaxAge))
	if horizon == 0 {
		return
	}
	if forgotten := r.journal.Prune(horizon); forgotten > 0 {
		r.logger.Debug("pruned journal", "horizon", horizon, "forgotten", forgotten)
	}
}
