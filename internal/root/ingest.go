package root

import (
	"context"
	"strings"

	"github.com/treewatch/treewatch/internal/crawler"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/journal"
	"github.com/treewatch/treewatch/internal/watcher"
)

// dispatch applies one notification. While settling, paths whose stat
// matches what the crawl recorded are left alone; once watching, every
// notification counts as a change.
func (r *Root) dispatch(ctx context.Context, ev watcher.Event, settling bool) {
	switch ev.Type {
	case watcher.EventOverflow:
		r.logger.Warn("event source overflowed, recrawling")
		r.recrawl(ctx)
	case watcher.EventMoved:
		r.applyMove(ctx, ev, settling)
	default:
		r.applyPath(ctx, ev, settling)
	}
}

func (r *Root) relName(path string) (string, bool) {
	name, err := crawler.RelName(r.path, path)
	if err != nil {
		r.logger.Warn("ignoring event outside root", "path", path, "error", err)
		return "", false
	}
	return name, true
}

// isCookieName reports whether name is a cookie at the top of the root.
func isCookieName(name string) bool {
	return crawler.IsCookie(name) && !strings.Contains(name, "/")
}

// applyPath re-examines a single path. Directories that appear are crawled
// so files created before their watch was installed are not missed.
func (r *Root) applyPath(ctx context.Context, ev watcher.Event, settling bool) {
	name, ok := r.relName(ev.Path)
	if !ok {
		return
	}

	if name == "" {
		if ev.Type == watcher.EventRemoved {
			r.logger.Error("root directory was removed")
			r.fail(errors.RootFailedf("root %s was deleted or moved", r.path))
		}
		return
	}

	if isCookieName(name) {
		if ev.Type == watcher.EventAdded {
			r.cookieSeen(name)
		}
		return
	}

	opts := r.crawler.Options()
	if opts.Ignored(name) {
		return
	}

	st, exists, err := r.crawler.Stat(r.path, name)
	if err != nil {
		r.logger.Warn("failed to stat changed path", "path", name, "error", err)
		return
	}

	if !exists {
		r.update(func(b *journal.Batch) {
			b.RemoveTree(name)
		})
		return
	}

	var subtree []journal.Stat
	if st.Mode.IsDir() && ev.Type != watcher.EventModified && !opts.Opaque(name) {
		subtree, err = r.crawler.Collect(ctx, r.path, name)
		if err != nil {
			return
		}
	}

	r.update(func(b *journal.Batch) {
		b.Observe(st, settling)
		if subtree != nil {
			b.Reconcile(name, subtree)
		}
	})
}

// applyMove records a rename as the removal of the old subtree and the
// creation of the new one, both in one batch so they share a tick.
func (r *Root) applyMove(ctx context.Context, ev watcher.Event, settling bool) {
	oldName, okOld := r.relName(ev.OldPath)
	newName, okNew := r.relName(ev.Path)
	opts := r.crawler.Options()

	if okNew && isCookieName(newName) {
		r.cookieSeen(newName)
	}

	trackOld := okOld && oldName != "" && !isCookieName(oldName) && !opts.Ignored(oldName)
	trackNew := okNew && newName != "" && !isCookieName(newName) && !opts.Ignored(newName)

	var (
		st      journal.Stat
		exists  bool
		subtree []journal.Stat
		err     error
	)
	if trackNew {
		st, exists, err = r.crawler.Stat(r.path, newName)
		if err != nil {
			r.logger.Warn("failed to stat moved path", "path", newName, "error", err)
			trackNew = false
		}
		if exists && st.Mode.IsDir() && !opts.Opaque(newName) {
			subtree, err = r.crawler.Collect(ctx, r.path, newName)
			if err != nil {
				return
			}
		}
	}

	if !trackOld && !trackNew {
		return
	}

	r.update(func(b *journal.Batch) {
		if trackOld {
			b.RemoveTree(oldName)
		}
		if !trackNew {
			return
		}
		if !exists {
			b.RemoveTree(newName)
			return
		}
		b.Observe(st, settling)
		if subtree != nil {
			b.Reconcile(newName, subtree)
		}
	})
}
