package root

import (
	"context"
	"path"
	"time"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/journal"
)

// QueryOptions tunes a query.
type QueryOptions struct {
	// SyncTimeout, when positive, syncs the root to now before answering.
	SyncTimeout time.Duration
	// WaitTimeout, when positive, long-polls an empty incremental result
	// until something changes or the timeout elapses.
	WaitTimeout time.Duration
}

// Response is the answer to a since or find query.
type Response struct {
	Clock clock.Clock
	// Fresh marks a full listing given instead of a delta: the cursor was
	// unknown, from another epoch, or older than the retained history.
	Fresh bool
	Files []journal.Change
}

// Since returns what changed after cursor. A named cursor is advanced to the
// returned clock; calls under one name are serialized.
func (r *Root) Since(ctx context.Context, cursor clock.Cursor, opts QueryOptions) (Response, error) {
	if err := r.prepare(ctx, opts.SyncTimeout); err != nil {
		return Response{}, err
	}

	if cursor.Kind == clock.CursorNamed {
		return r.sinceNamed(ctx, cursor.Name, opts.WaitTimeout)
	}

	eval := func() Response { return r.query(cursor.Clock) }
	return r.awaitChanges(ctx, eval(), opts.WaitTimeout, eval)
}

func (r *Root) sinceNamed(ctx context.Context, name string, wait time.Duration) (Response, error) {
	c := r.cursors.acquire(name)
	defer c.release()

	eval := func() Response {
		if ck, ok := c.get(); ok {
			return r.query(ck)
		}
		return r.listing(nil)
	}

	resp, err := r.awaitChanges(ctx, eval(), wait, eval)
	if err != nil {
		return resp, err
	}
	c.store(resp.Clock)
	return resp, nil
}

// awaitChanges long-polls an empty delta until the root's clock moves.
func (r *Root) awaitChanges(ctx context.Context, resp Response, wait time.Duration, eval func() Response) (Response, error) {
	if wait <= 0 || resp.Fresh || len(resp.Files) > 0 {
		return resp, nil
	}

	outcome := r.waiter.Wait(ctx, wait, func() bool {
		return r.currentClock() != resp.Clock
	})

	switch outcome {
	case Satisfied:
		return eval(), nil
	case TimedOut:
		return resp, nil
	default:
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		if err := r.Err(); err != nil {
			return resp, err
		}
		return resp, errors.RootFailedf("root %s is no longer watched", r.path)
	}
}

// Clock returns the root's current clock.
func (r *Root) Clock(ctx context.Context, syncTimeout time.Duration) (clock.Clock, error) {
	if err := r.prepare(ctx, syncTimeout); err != nil {
		return clock.Clock{}, err
	}
	return r.issueClock(), nil
}

// Find returns the existing paths whose full name or base name matches any
// of patterns (all paths when there are none).
func (r *Root) Find(ctx context.Context, patterns []string, syncTimeout time.Duration) (Response, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return Response{}, errors.Validationf("invalid pattern %q", p)
		}
	}

	if err := r.prepare(ctx, syncTimeout); err != nil {
		return Response{}, err
	}

	if len(patterns) == 0 {
		return r.listing(nil), nil
	}
	return r.listing(func(rec journal.FileRecord) bool {
		return matchAny(patterns, rec.Name)
	}), nil
}

func matchAny(patterns []string, name string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// query answers a literal clock. Clocks from another epoch cannot be
// answered incrementally and get a full listing.
func (r *Root) query(c clock.Clock) Response {
	r.epochMu.RLock()
	defer r.epochMu.RUnlock()

	var res journal.Result
	if c.Epoch != r.epoch {
		res = r.journal.Listing()
	} else {
		res = r.journal.Query(c.Seq)
	}
	return Response{
		Clock: clock.Clock{Epoch: r.epoch, Seq: res.Tick},
		Fresh: res.Fresh,
		Files: res.Changes,
	}
}

func (r *Root) listing(match func(journal.FileRecord) bool) Response {
	r.epochMu.RLock()
	defer r.epochMu.RUnlock()

	res := r.journal.Filter(match)
	return Response{
		Clock: clock.Clock{Epoch: r.epoch, Seq: res.Tick},
		Fresh: res.Fresh,
		Files: res.Changes,
	}
}

// prepare waits for the initial crawl and optionally syncs to now.
func (r *Root) prepare(ctx context.Context, syncTimeout time.Duration) error {
	select {
	case <-r.ready:
	default:
		timer := time.NewTimer(r.cfg.SettleTimeout)
		defer timer.Stop()

		select {
		case <-r.ready:
		case <-timer.C:
			return errors.Timeoutf("root %s is still being crawled", r.path)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := r.Err(); err != nil {
		return err
	}
	if syncTimeout > 0 {
		return r.SyncToNow(ctx, syncTimeout)
	}
	return nil
}
