package root

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/crawler"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/journal"
	"github.com/treewatch/treewatch/internal/watcher"
)

func names(files []journal.Change) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	sort.Strings(out)
	return out
}

func byName(files []journal.Change) map[string]journal.Change {
	out := make(map[string]journal.Change, len(files))
	for _, f := range files {
		out[f.Name] = f
	}
	return out
}

func TestOpen_RejectsBadPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	for _, p := range []string{"", filepath.Join(dir, "missing"), file} {
		_, err := Open(context.Background(), testLogger(), p, testConfig(newFakeSource()))
		assert.True(t, errors.Is(err, errors.ErrWatchFailure), "path %q: %v", p, err)
	}
}

func TestOpen_SubscribeFailureIsWatchFailure(t *testing.T) {
	source := newFakeSource()
	source.err = os.ErrPermission

	_, err := Open(context.Background(), testLogger(), t.TempDir(), testConfig(source))
	assert.True(t, errors.Is(err, errors.ErrWatchFailure))
}

func TestRoot_ReachesWatching(t *testing.T) {
	h := newHarness(t, "a")
	assert.Equal(t, StateWatching, h.root.State())
	assert.NoError(t, h.root.Err())

	info := h.root.Info()
	assert.Equal(t, h.dir, info.Path)
	assert.Equal(t, 1, info.Files)
	assert.Equal(t, uint64(101), info.Clock.Epoch)
}

func TestSince_InitialListing(t *testing.T) {
	h := newHarness(t, "a", "b")

	resp := h.since("n:x")
	assert.True(t, resp.Fresh)
	assert.Equal(t, []string{"a", "b"}, names(resp.Files))
	for _, f := range resp.Files {
		assert.True(t, f.New, f.Name)
		assert.True(t, f.Exists, f.Name)
	}

	// Idempotent: nothing changed since.
	again := h.since("n:x")
	assert.False(t, again.Fresh)
	assert.Empty(t, again.Files)
	assert.Equal(t, resp.Clock, again.Clock)
}

func TestSince_DeletionVisible(t *testing.T) {
	h := newHarness(t, "foo.c", "bar.txt")
	h.since("n:x")

	require.NoError(t, os.Remove(h.abs("bar.txt")))
	h.emit(watcher.EventRemoved, "bar.txt")

	resp := h.since("n:x")
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "bar.txt", resp.Files[0].Name)
	assert.False(t, resp.Files[0].Exists)

	listing := h.since("n:fresh")
	assert.Equal(t, []string{"foo.c"}, names(listing.Files))
}

func TestSince_TouchDeleteTouch(t *testing.T) {
	h := newHarness(t, "foo.c")
	h.since("n:x")

	writeFile(t, h.dir, "bar.txt")
	h.emit(watcher.EventAdded, "bar.txt")
	require.NoError(t, os.Remove(h.abs("bar.txt")))
	h.emit(watcher.EventRemoved, "bar.txt")
	writeFile(t, h.dir, "bar.txt")
	h.emit(watcher.EventAdded, "bar.txt")

	resp := h.since("n:x")
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "bar.txt", resp.Files[0].Name)
	assert.True(t, resp.Files[0].Exists)
	assert.True(t, resp.Files[0].New)
}

func TestSince_RenameDecomposition(t *testing.T) {
	h := newHarness(t, "adir/subdir/file")
	h.since("n:x")

	require.NoError(t, os.Rename(h.abs("adir/subdir"), h.abs("adir/overhere")))
	h.emitMove("adir/subdir", "adir/overhere")

	resp := h.since("n:x")
	got := byName(resp.Files)
	assert.True(t, got["adir/overhere"].Exists)
	assert.True(t, got["adir/overhere/file"].Exists)
	assert.False(t, got["adir/subdir"].Exists)
	assert.False(t, got["adir/subdir/file"].Exists)
	// Both halves of the rename carry one tick.
	assert.Equal(t, got["adir/overhere"].OTime, got["adir/subdir"].OTime)

	require.NoError(t, os.Rename(h.abs("adir"), h.abs("bdir")))
	h.emitMove("adir", "bdir")

	listing := h.since("n:other")
	assert.Equal(t, []string{"bdir", "bdir/overhere", "bdir/overhere/file"}, names(listing.Files))
}

func TestSince_TouchedAgainIsNotNew(t *testing.T) {
	h := newHarness(t)
	h.since("n:x")

	writeFile(t, h.dir, "one")
	h.emit(watcher.EventAdded, "one")
	resp := h.since("n:x")
	require.Len(t, resp.Files, 1)
	assert.True(t, resp.Files[0].New)

	// A notification without any visible change still reports the path.
	h.emit(watcher.EventModified, "one")
	resp = h.since("n:x")
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "one", resp.Files[0].Name)
	assert.False(t, resp.Files[0].New)
}

func TestSince_CursorIsolation(t *testing.T) {
	h := newHarness(t, "111", "222")
	h.since("n:x")

	writeFile(t, h.dir, "bar")
	h.emit(watcher.EventAdded, "bar")
	h.since("n:y")

	writeFile(t, h.dir, "333")
	h.emit(watcher.EventAdded, "333")

	assert.Equal(t, []string{"333", "bar"}, names(h.since("n:x").Files))
	assert.Equal(t, []string{"333"}, names(h.since("n:y").Files))
	assert.Equal(t, []string{"x", "y"}, h.root.cursors.Names())
}

func TestSince_LiteralClocks(t *testing.T) {
	h := newHarness(t, "a")

	first := h.since("c:101:0")
	assert.False(t, first.Fresh)
	assert.Equal(t, []string{"a"}, names(first.Files))
	assert.True(t, first.Files[0].New)

	writeFile(t, h.dir, "b")
	h.emit(watcher.EventAdded, "b")

	resp := h.since(first.Clock.String())
	assert.Equal(t, []string{"b"}, names(resp.Files))

	// A clock from some other epoch gets a fresh listing.
	other := h.since("c:7:3")
	assert.True(t, other.Fresh)
	assert.Equal(t, []string{"a", "b"}, names(other.Files))

	// A clock from the future has nothing to report.
	future := h.since(clock.Clock{Epoch: 101, Seq: 1000}.String())
	assert.Empty(t, future.Files)
}

func TestSince_NewDirectoryIsCrawled(t *testing.T) {
	h := newHarness(t)
	h.since("n:x")

	// Files created before the directory's watch existed are still found.
	writeFile(t, h.dir, "pkg/a.go")
	writeFile(t, h.dir, "pkg/sub/b.go")
	h.emit(watcher.EventAdded, "pkg")

	resp := h.since("n:x")
	assert.Equal(t, []string{"pkg", "pkg/a.go", "pkg/sub", "pkg/sub/b.go"}, names(resp.Files))
}

func TestSince_DirectoryRemovalRemovesTree(t *testing.T) {
	h := newHarness(t, "d/x", "d/y/z")
	h.since("n:x")

	require.NoError(t, os.RemoveAll(h.abs("d")))
	h.emit(watcher.EventRemoved, "d")

	resp := h.since("n:x")
	assert.Equal(t, []string{"d", "d/x", "d/y", "d/y/z"}, names(resp.Files))
	for _, f := range resp.Files {
		assert.False(t, f.Exists, f.Name)
	}
}

func TestSince_CookiesAreNeverListed(t *testing.T) {
	h := newHarness(t, "a")
	for i := 0; i < 3; i++ {
		resp := h.since("n:x")
		for _, f := range resp.Files {
			assert.NotContains(t, f.Name, ".treewatch-cookie-")
		}
	}
}

func TestOverflow_RecrawlsUnderNewEpoch(t *testing.T) {
	h := newHarness(t, "keep", "gone")
	before := h.since("n:x")

	// Changes the event source never reported.
	require.NoError(t, os.Remove(h.abs("gone")))
	writeFile(t, h.dir, "fresh")
	h.emitOverflow()

	resp := h.since("n:x")
	assert.True(t, resp.Fresh)
	assert.Equal(t, []string{"fresh", "keep"}, names(resp.Files))
	assert.Greater(t, resp.Clock.Epoch, before.Clock.Epoch)
	assert.Greater(t, resp.Clock.Seq, before.Clock.Seq)
	assert.Equal(t, uint64(1), h.root.Recrawls())
	assert.Equal(t, StateWatching, h.root.State())

	// Incremental again afterwards.
	assert.Empty(t, h.since("n:x").Files)

	rec, ok := h.root.journal.Lookup("gone")
	require.True(t, ok)
	assert.False(t, rec.Exists)
}

func TestSince_WaitTimeout(t *testing.T) {
	h := newHarness(t, "a")
	base := h.since("n:x")

	// Nothing happens: the long poll times out with an empty result.
	start := time.Now()
	cursor, _ := clock.ParseCursor(base.Clock.String())
	resp, err := h.root.Since(context.Background(), cursor, QueryOptions{WaitTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Empty(t, resp.Files)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// A change during the poll ends it early.
	sub := h.source.sub(t, h.dir)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(h.abs("late"), nil, 0o644)
		sub.emit(watcher.Event{Type: watcher.EventAdded, Path: h.abs("late")})
	}()
	nc, _ := clock.ParseCursor("n:x")
	resp, err = h.root.Since(context.Background(), nc, QueryOptions{WaitTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, names(resp.Files))
}

func TestStop_WakesWaiters(t *testing.T) {
	h := newHarness(t, "a")
	base := h.since("n:x")
	cursor, _ := clock.ParseCursor(base.Clock.String())

	errCh := make(chan error, 1)
	go func() {
		_, err := h.root.Since(context.Background(), cursor, QueryOptions{WaitTimeout: time.Minute})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h.root.Stop()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, errors.ErrRootFailed), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken by Stop")
	}

	assert.Equal(t, StateFailed, h.root.State())
	_, err := h.root.Clock(context.Background(), 0)
	assert.True(t, errors.Is(err, errors.ErrRootFailed))
}

func TestRootRemoval_FailsRoot(t *testing.T) {
	h := newHarness(t, "a")
	h.source.sub(t, h.dir).emit(watcher.Event{Type: watcher.EventRemoved, Path: h.dir, IsDir: true})

	select {
	case <-h.root.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("root did not fail")
	}
	assert.Equal(t, StateFailed, h.root.State())

	_, err := h.root.Since(context.Background(), clock.Cursor{Kind: clock.CursorNamed, Name: "x"}, QueryOptions{})
	assert.True(t, errors.Is(err, errors.ErrRootFailed))
}

func TestFind(t *testing.T) {
	h := newHarness(t, "a.go", "sub/b.go", "sub/c.txt")

	resp, err := h.root.Find(context.Background(), []string{"*.go"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "sub/b.go"}, names(resp.Files))

	resp, err = h.root.Find(context.Background(), []string{"sub/*.txt"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/c.txt"}, names(resp.Files))

	resp, err = h.root.Find(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Len(t, resp.Files, 4)

	_, err = h.root.Find(context.Background(), []string{"[bad"}, 0)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestPrune_OldCursorsGetFreshListing(t *testing.T) {
	h := newHarness(t, "a")
	old := h.since("c:101:0")

	writeFile(t, h.dir, "b")
	h.emit(watcher.EventAdded, "b")
	h.since("n:x")

	h.root.cfg.MaxAge = time.Nanosecond
	time.Sleep(time.Millisecond)
	h.root.prune()

	resp := h.since(old.Clock.String())
	assert.True(t, resp.Fresh)
	assert.Equal(t, []string{"a", "b"}, names(resp.Files))
}

func TestClock_IssuedClockIsACursor(t *testing.T) {
	h := newHarness(t, "a")
	h.since("n:x")

	writeFile(t, h.dir, "b")
	h.emit(watcher.EventAdded, "b")

	c, err := h.root.Clock(context.Background(), 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(h.abs("b"), []byte("grown"), 0o644))
	h.emit(watcher.EventModified, "b")

	resp := h.since(c.String())
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "b", resp.Files[0].Name)
	assert.True(t, resp.Files[0].Exists)
	assert.False(t, resp.Files[0].New, "b existed at %s", c)

	// The older named cursor never saw b.
	named := h.since("n:x")
	require.Len(t, named.Files, 1)
	assert.True(t, named.Files[0].New)
}

func TestInfo_IssuedClockIsACursor(t *testing.T) {
	h := newHarness(t)
	h.since("n:x")

	writeFile(t, h.dir, "b")
	h.emit(watcher.EventAdded, "b")
	require.NoError(t, h.root.SyncToNow(context.Background(), 5*time.Second))

	held := h.root.Info().Clock

	require.NoError(t, os.WriteFile(h.abs("b"), []byte("grown"), 0o644))
	h.emit(watcher.EventModified, "b")

	resp := h.since(held.String())
	require.Len(t, resp.Files, 1)
	assert.False(t, resp.Files[0].New)
}

func TestSince_DecomposedNames(t *testing.T) {
	const decomposed = "dir/cafe\u0301.txt"
	h := newHarness(t, decomposed)

	name, err := crawler.RelName(h.dir, h.abs(decomposed))
	require.NoError(t, err)

	initial := h.since("n:x")
	assert.Equal(t, []string{"dir", name}, names(initial.Files))

	require.NoError(t, os.WriteFile(h.abs(decomposed), []byte("rewritten"), 0o644))
	h.emit(watcher.EventModified, decomposed)

	resp := h.since("n:x")
	require.Len(t, resp.Files, 1)
	assert.Equal(t, name, resp.Files[0].Name)
	assert.True(t, resp.Files[0].Exists)
	assert.Equal(t, int64(len("rewritten")), resp.Files[0].Size)

	// A rescan of the parent keeps the file too.
	h.emit(watcher.EventAdded, "dir")
	listing := h.since("n:fresh")
	assert.Equal(t, []string{"dir", name}, names(listing.Files))
}

func TestClock_Advances(t *testing.T) {
	h := newHarness(t, "a")

	c1, err := h.root.Clock(context.Background(), 5*time.Second)
	require.NoError(t, err)

	writeFile(t, h.dir, "b")
	h.emit(watcher.EventAdded, "b")

	c2, err := h.root.Clock(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, c1.Before(c2))
}
