package journal

import (
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(name string, size int64) Stat {
	return Stat{Name: name, Size: size, ModTime: time.Unix(1000, 0), Mode: 0o644}
}

func dir(name string) Stat {
	return Stat{Name: name, ModTime: time.Unix(1000, 0), Mode: fs.ModeDir | 0o755}
}

func names(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}

func byName(changes []Change) map[string]Change {
	out := make(map[string]Change, len(changes))
	for _, c := range changes {
		out[c.Name] = c
	}
	return out
}

// assertFolded checks that the current-state index agrees with the retained history.
func assertFolded(t *testing.T, j *Journal) {
	t.Helper()
	j.mu.RLock()
	defer j.mu.RUnlock()

	for name, n := range j.files {
		if len(n.history) == 0 {
			// Everything about this path was pruned.
			assert.LessOrEqual(t, n.rec.OTime, j.horizon, "path %s lost unpruned history", name)
			continue
		}
		last := n.history[len(n.history)-1]
		assert.Equal(t, n.rec.OTime, last.Seq, "path %s", name)
		assert.Equal(t, n.rec.Exists, last.Kind != Deleted, "path %s", name)
		for i := 1; i < len(n.history); i++ {
			assert.Less(t, n.history[i-1].Seq, n.history[i].Seq, "path %s history out of order", name)
		}
	}
}

func TestUpdate_SingleTickPerBatch(t *testing.T) {
	j := New()

	seq := j.Update(func(b *Batch) {
		b.Observe(file("a", 1), false)
		b.Observe(file("b", 1), false)
	})
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, uint64(1), j.Tick())

	a, ok := j.Lookup("a")
	require.True(t, ok)
	b, _ := j.Lookup("b")
	assert.Equal(t, a.OTime, b.OTime)
	assert.Equal(t, uint64(1), a.CTime)
	assertFolded(t, j)
}

func TestUpdate_NoopBatchDoesNotTick(t *testing.T) {
	j := New()
	seq := j.Update(func(b *Batch) {
		b.Remove("never-existed")
	})
	assert.Zero(t, seq)
	assert.Zero(t, j.Tick())
}

func TestQuery_InitialListingAllNew(t *testing.T) {
	j := New()
	j.Update(func(b *Batch) {
		b.Observe(file("bar.txt", 0), false)
		b.Observe(file("foo.c", 0), false)
	})

	res := j.Query(0)
	assert.False(t, res.Fresh)
	assert.Equal(t, []string{"bar.txt", "foo.c"}, names(res.Changes))
	for _, c := range res.Changes {
		assert.True(t, c.New, c.Name)
		assert.True(t, c.Exists, c.Name)
	}

	again := j.Query(res.Tick)
	assert.Empty(t, again.Changes)
}

func TestQuery_DeletionVisible(t *testing.T) {
	j := New()
	j.Append(Created, file("bar.txt", 0))
	first := j.Query(0)

	j.Append(Deleted, Stat{Name: "bar.txt"})
	res := j.Query(first.Tick)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "bar.txt", res.Changes[0].Name)
	assert.False(t, res.Changes[0].Exists)
	assert.False(t, res.Changes[0].New)

	assert.Empty(t, j.Listing().Changes)
	assertFolded(t, j)
}

func TestQuery_TouchDeleteTouchCollapses(t *testing.T) {
	j := New()
	j.Append(Created, file("foo.c", 0))
	j.Append(Created, file("bar.txt", 0))
	base := j.Query(0)

	j.Append(Deleted, Stat{Name: "bar.txt"})
	j.Append(Created, file("bar.txt", 0))

	// Existed at base: present again, not new, one collapsed transition.
	res := j.Query(base.Tick)
	require.Len(t, res.Changes, 1)
	assert.True(t, res.Changes[0].Exists)
	assert.False(t, res.Changes[0].New)
	assert.Len(t, j.History("bar.txt"), 2)

	// A path that never existed at the cursor is new after create/delete/create.
	mark := j.Query(res.Tick).Tick
	j.Append(Created, file("baz", 0))
	j.Append(Deleted, Stat{Name: "baz"})
	j.Append(Created, file("baz", 0))

	res = j.Query(mark)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "baz", res.Changes[0].Name)
	assert.True(t, res.Changes[0].Exists)
	assert.True(t, res.Changes[0].New)
	assert.Len(t, j.History("baz"), 1)
	assertFolded(t, j)
}

func TestQuery_NewFlagUsesEarliestChangeSinceCursor(t *testing.T) {
	j := New()
	j.Append(Created, file("one", 0))
	c1 := j.Query(0).Tick // reader observed "one" existing

	j.Append(Deleted, Stat{Name: "one"})
	c2 := j.Query(c1).Tick // reader observed the deletion

	j.Append(Created, file("one", 1))

	// Relative to c1 the earliest change is the deletion: it existed then.
	res := j.Query(c1)
	require.Len(t, res.Changes, 1)
	assert.False(t, res.Changes[0].New)
	assert.True(t, res.Changes[0].Exists)

	// Relative to c2 the file did not exist.
	res = j.Query(c2)
	require.Len(t, res.Changes, 1)
	assert.True(t, res.Changes[0].New)
}

func TestQuery_TouchedAgainIsNotNew(t *testing.T) {
	j := New()
	cursor := j.Query(0).Tick

	j.Append(Created, file("one", 0))
	res := j.Query(cursor)
	require.Len(t, res.Changes, 1)
	assert.True(t, res.Changes[0].New)
	cursor = res.Tick

	assert.Empty(t, j.Query(cursor).Changes)

	j.Append(Modified, file("one", 0))
	res = j.Query(cursor)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "one", res.Changes[0].Name)
	assert.False(t, res.Changes[0].New)
}

func TestReadTick_KeepsLaterChangesApart(t *testing.T) {
	j := New()
	cursor := j.Query(0).Tick

	j.Append(Created, file("b", 1))
	held := j.ReadTick()
	j.Append(Modified, file("b", 2))

	res := j.Query(held)
	require.Len(t, res.Changes, 1)
	assert.True(t, res.Changes[0].Exists)
	assert.False(t, res.Changes[0].New, "b existed at the held tick")

	res = j.Query(cursor)
	require.Len(t, res.Changes, 1)
	assert.True(t, res.Changes[0].New, "b did not exist at the older cursor")
	assertFolded(t, j)
}

func TestQuery_IndependentCursors(t *testing.T) {
	j := New()
	j.Append(Created, file("111", 0))
	j.Append(Created, file("222", 0))

	x := j.Query(0).Tick
	j.Append(Created, file("bar", 0))
	y := j.Query(x).Tick

	j.Append(Created, file("bar/333", 0))

	assert.Equal(t, []string{"bar", "bar/333"}, names(j.Query(x).Changes))
	assert.Equal(t, []string{"bar/333"}, names(j.Query(y).Changes))
}

func TestQuery_RecencyOrder(t *testing.T) {
	j := New()
	j.Append(Created, file("a", 0))
	j.Append(Created, file("b", 0))
	j.Append(Modified, file("a", 1))

	res := j.Query(0)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, "a", res.Changes[0].Name)
	assert.Equal(t, "b", res.Changes[1].Name)
}

func TestBatch_RemoveTree(t *testing.T) {
	j := New()
	j.Update(func(b *Batch) {
		b.Observe(dir("adir"), false)
		b.Observe(dir("adir/subdir"), false)
		b.Observe(file("adir/subdir/file", 0), false)
		b.Observe(file("adirx", 0), false)
	})

	var removed int
	seq := j.Update(func(b *Batch) {
		removed = b.RemoveTree("adir/subdir")
	})
	assert.Equal(t, 2, removed)

	gone, _ := j.Lookup("adir/subdir/file")
	assert.False(t, gone.Exists)
	assert.Equal(t, seq, gone.OTime)

	kept, _ := j.Lookup("adirx")
	assert.True(t, kept.Exists)
	assertFolded(t, j)
}

func TestBatch_Reconcile(t *testing.T) {
	j := New()
	j.Update(func(b *Batch) {
		b.Observe(file("keep", 1), false)
		b.Observe(file("change", 1), false)
		b.Observe(file("vanish", 1), false)
	})
	before := j.Query(0).Tick

	var changed, deleted int
	j.Update(func(b *Batch) {
		changed, deleted = b.Reconcile("", []Stat{
			file("keep", 1),
			file("change", 2),
			file("appear", 1),
		})
	})
	assert.Equal(t, 2, changed)
	assert.Equal(t, 1, deleted)

	got := byName(j.Query(before).Changes)
	assert.Len(t, got, 3)
	assert.False(t, got["change"].New)
	assert.True(t, got["appear"].New)
	assert.False(t, got["vanish"].Exists)
	assertFolded(t, j)
}

func TestPrune_DegradesOldCursorsToFreshListing(t *testing.T) {
	j := New()
	j.Append(Created, file("a", 0))
	old := j.Query(0).Tick
	j.Append(Created, file("b", 0))
	j.Append(Deleted, Stat{Name: "a"})
	mid := j.Query(old).Tick
	j.Append(Created, file("c", 0))

	forgotten := j.Prune(mid)
	assert.Equal(t, 1, forgotten) // "a" was deleted at or below the horizon
	assert.Equal(t, mid, j.Horizon())

	res := j.Query(old)
	assert.True(t, res.Fresh)
	assert.Equal(t, []string{"b", "c"}, names(res.Changes))
	for _, c := range res.Changes {
		assert.True(t, c.New)
	}

	res = j.Query(mid)
	assert.False(t, res.Fresh)
	assert.Equal(t, []string{"c"}, names(res.Changes))
	assertFolded(t, j)
}

func TestPrune_IgnoresStaleHorizon(t *testing.T) {
	j := New()
	j.Append(Created, file("a", 0))
	j.Append(Created, file("b", 0))
	j.Prune(2)
	assert.Zero(t, j.Prune(1))
	assert.Equal(t, uint64(2), j.Horizon())
	assert.Zero(t, j.Prune(100))
	assert.Equal(t, uint64(2), j.Horizon())
}

func TestHorizonBefore(t *testing.T) {
	j := New()
	now := time.Unix(5000, 0)
	j.now = func() time.Time { return now }

	j.Append(Created, file("a", 0))
	now = now.Add(time.Minute)
	j.Append(Created, file("b", 0))
	now = now.Add(time.Minute)
	j.Append(Created, file("c", 0))

	assert.Zero(t, j.HorizonBefore(time.Unix(4000, 0)))
	assert.Equal(t, uint64(1), j.HorizonBefore(time.Unix(5030, 0)))
	assert.Equal(t, uint64(2), j.HorizonBefore(time.Unix(5060, 0)))
	assert.Equal(t, uint64(3), j.HorizonBefore(now))
}

func TestFilter(t *testing.T) {
	j := New()
	j.Append(Created, file("a.go", 0))
	j.Append(Created, file("b.txt", 0))
	j.Append(Created, file("gone.go", 0))
	j.Append(Deleted, Stat{Name: "gone.go"})

	res := j.Filter(func(r FileRecord) bool { return r.Name[len(r.Name)-3:] == ".go" })
	assert.Equal(t, []string{"a.go"}, names(res.Changes))
	assert.True(t, res.Fresh)
}

func TestFileRecord_Type(t *testing.T) {
	assert.Equal(t, "d", FileRecord{Mode: fs.ModeDir}.Type())
	assert.Equal(t, "l", FileRecord{Mode: fs.ModeSymlink}.Type())
	assert.Equal(t, "f", FileRecord{Mode: 0o644}.Type())
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "deleted", Deleted.String())
}
