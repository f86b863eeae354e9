package root

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/treewatch/treewatch/internal/crawler"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/id"
)

// cookie is a sentinel file written into the root. Once the event source
// reports its creation, every notification queued before it has been applied.
type cookie struct {
	name    string
	seen    chan struct{}
	created time.Time
	once    sync.Once
}

func (c *cookie) release() {
	c.once.Do(func() { close(c.seen) })
}

func (r *Root) newCookie() (*cookie, error) {
	tok, err := id.Token()
	if err != nil {
		return nil, err
	}

	ck := &cookie{
		name:    crawler.CookiePrefix + tok,
		seen:    make(chan struct{}),
		created: time.Now(),
	}

	r.cookieMu.Lock()
	r.cookies[ck.name] = ck
	r.cookieMu.Unlock()

	if err := os.WriteFile(filepath.Join(r.path, ck.name), nil, 0o600); err != nil {
		r.cookieMu.Lock()
		delete(r.cookies, ck.name)
		r.cookieMu.Unlock()
		return nil, err
	}
	return ck, nil
}

func (r *Root) dropCookie(ck *cookie) {
	r.cookieMu.Lock()
	delete(r.cookies, ck.name)
	r.cookieMu.Unlock()

	if err := os.Remove(filepath.Join(r.path, ck.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("failed to remove cookie", "cookie", ck.name, "error", err)
	}
}

func (r *Root) cookieSeen(name string) {
	r.cookieMu.Lock()
	ck, ok := r.cookies[name]
	r.cookieMu.Unlock()

	if ok {
		ck.release()
	}
}

// releaseCookies releases cookies written before the given time, or all of
// them when it is zero. A recrawl that started after a cookie was written has
// observed everything the cookie guards.
func (r *Root) releaseCookies(before time.Time) {
	r.cookieMu.Lock()
	defer r.cookieMu.Unlock()

	for _, ck := range r.cookies {
		if before.IsZero() || ck.created.Before(before) {
			ck.release()
		}
	}
}

// SyncToNow blocks until every change made on disk before the call has been
// applied to the journal.
func (r *Root) SyncToNow(ctx context.Context, timeout time.Duration) error {
	if err := r.Err(); err != nil {
		return err
	}

	ck, err := r.newCookie()
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to write sync cookie in %s", r.path)
	}
	defer r.dropCookie(ck)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ck.seen:
		return r.Err()
	case <-timer.C:
		return errors.Timeoutf("timed out after %s waiting for %s to sync", timeout, r.path)
	case <-ctx.Done():
		return ctx.Err()
	}
}
