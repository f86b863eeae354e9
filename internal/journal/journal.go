// Package journal keeps the change history of one watched root.
//
// A Journal holds the current state of every known path together with the
// ordered transitions that led to it. All mutations go through Update, which
// runs under the journal's write lock and stamps every change it makes with a
// single tick. Queries take the read lock and produce their tick and entries
// from the same snapshot.
package journal

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type node struct {
	rec     FileRecord
	history []Transition
	elem    *list.Element
}

type stamp struct {
	seq uint64
	at  time.Time
}

// Journal is the change journal and current-state index of one root.
type Journal struct {
	mu      sync.RWMutex
	files   map[string]*node
	recency *list.List // front is the most recently changed node
	tick    uint64
	horizon uint64
	stamps  []stamp

	// readMark is the newest tick handed out to a reader. Transitions newer
	// than it have not been observed by anyone and may be collapsed.
	readMark atomic.Uint64

	now func() time.Time
}

// New creates an empty journal at tick zero.
func New() *Journal {
	return &Journal{
		files:   make(map[string]*node),
		recency: list.New(),
		now:     time.Now,
	}
}

// Tick returns the journal's current tick.
func (j *Journal) Tick() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tick
}

// ReadTick returns the current tick and marks it read, so later changes are
// kept apart from the transitions a holder of the tick has already seen.
func (j *Journal) ReadTick() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.MarkRead(j.tick)
	return j.tick
}

// Horizon returns the tick at or below which history has been pruned.
func (j *Journal) Horizon() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.horizon
}

// Len returns the number of records in the index, deleted ones included.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.files)
}

// Update applies a batch of changes atomically. Every change made through the
// batch is stamped with the same tick, allocated on the first effective change.
// It returns that tick, or zero when the batch changed nothing.
func (j *Journal) Update(fn func(b *Batch)) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	b := &Batch{j: j}
	fn(b)

	if b.seq != 0 {
		j.stamps = append(j.stamps, stamp{seq: b.seq, at: j.now()})
	}
	return b.seq
}

// Append records a single change and returns its tick (zero if nothing changed).
func (j *Journal) Append(kind Kind, st Stat) uint64 {
	return j.Update(func(b *Batch) {
		b.Append(kind, st)
	})
}

// MarkRead records that a reader has observed the journal at seq.
func (j *Journal) MarkRead(seq uint64) {
	for {
		cur := j.readMark.Load()
		if seq <= cur || j.readMark.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Lookup returns the current record for name.
func (j *Journal) Lookup(name string) (FileRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n, ok := j.files[name]
	if !ok {
		return FileRecord{}, false
	}
	return n.rec, true
}

// History returns a copy of the retained transitions for name.
func (j *Journal) History(name string) []Transition {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n, ok := j.files[name]
	if !ok {
		return nil
	}
	out := make([]Transition, len(n.history))
	copy(out, n.history)
	return out
}

// Result is the answer to a query.
type Result struct {
	// Tick is the journal tick the result was computed at.
	Tick uint64
	// Fresh is set when the result is a full listing rather than a delta,
	// because the requested tick predates the retained history.
	Fresh bool
	// Changes are ordered most recently changed first.
	Changes []Change
}

// Query returns every path whose state changed after since, each carrying its
// current record and whether it did not exist at since. A since older than the
// pruning horizon degrades to a full listing with Fresh set.
func (j *Journal) Query(since uint64) Result {
	j.mu.RLock()
	defer j.mu.RUnlock()

	res := Result{Tick: j.tick}
	defer j.MarkRead(res.Tick)

	if since < j.horizon {
		res.Fresh = true
		res.Changes = j.listingLocked(nil)
		return res
	}

	for e := j.recency.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		if n.rec.OTime <= since {
			break
		}
		res.Changes = append(res.Changes, Change{
			FileRecord: n.rec,
			New:        !n.existedAt(since),
		})
	}
	return res
}

// Listing returns every existing path, each flagged new. It is the answer for
// cursors that have no usable history.
func (j *Journal) Listing() Result {
	return j.Filter(nil)
}

// Filter returns the existing paths accepted by match (all when nil), flagged new.
func (j *Journal) Filter(match func(FileRecord) bool) Result {
	j.mu.RLock()
	defer j.mu.RUnlock()

	res := Result{Tick: j.tick, Fresh: true, Changes: j.listingLocked(match)}
	j.MarkRead(res.Tick)
	return res
}

func (j *Journal) listingLocked(match func(FileRecord) bool) []Change {
	var out []Change
	for e := j.recency.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		if !n.rec.Exists {
			continue
		}
		if match != nil && !match(n.rec) {
			continue
		}
		out = append(out, Change{FileRecord: n.rec, New: true})
	}
	return out
}

// existedAt reports whether the path existed at tick since, using the
// earliest retained transition after it.
func (n *node) existedAt(since uint64) bool {
	i := sort.Search(len(n.history), func(i int) bool {
		return n.history[i].Seq > since
	})
	if i == len(n.history) {
		return n.rec.Exists
	}
	return n.history[i].ExistedBefore
}

// Prune discards history at or below horizon and forgets deleted paths whose
// last change is that old. It returns the number of forgotten paths.
func (j *Journal) Prune(horizon uint64) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	if horizon > j.tick {
		horizon = j.tick
	}
	if horizon <= j.horizon {
		return 0
	}
	j.horizon = horizon

	forgotten := 0
	for name, n := range j.files {
		if !n.rec.Exists && n.rec.OTime <= horizon {
			j.recency.Remove(n.elem)
			delete(j.files, name)
			forgotten++
			continue
		}
		keep := sort.Search(len(n.history), func(i int) bool {
			return n.history[i].Seq > horizon
		})
		if keep > 0 {
			n.history = append(n.history[:0:0], n.history[keep:]...)
		}
	}

	keep := sort.Search(len(j.stamps), func(i int) bool {
		return j.stamps[i].seq > horizon
	})
	j.stamps = append(j.stamps[:0:0], j.stamps[keep:]...)

	return forgotten
}

// HorizonBefore returns the newest tick stamped at or before cutoff, or zero.
func (j *Journal) HorizonBefore(cutoff time.Time) uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()

	i := sort.Search(len(j.stamps), func(i int) bool {
		return j.stamps[i].at.After(cutoff)
	})
	if i == 0 {
		return 0
	}
	return j.stamps[i-1].seq
}

// Batch mutates a journal inside Update.
type Batch struct {
	j   *Journal
	seq uint64
}

// Seq returns the tick of this batch, allocating it if needed.
func (b *Batch) Seq() uint64 {
	if b.seq == 0 {
		b.j.tick++
		b.seq = b.j.tick
	}
	return b.seq
}

// Append records that st.Name changed. Only whether kind is Deleted matters:
// created versus modified is derived from the current record. Deleting a path
// that does not exist is a no-op. It reports whether anything was recorded.
func (b *Batch) Append(kind Kind, st Stat) bool {
	j := b.j
	n := j.files[st.Name]
	existed := n != nil && n.rec.Exists
	exists := kind != Deleted

	if !existed && !exists {
		return false
	}

	switch {
	case !exists:
		kind = Deleted
	case existed:
		kind = Modified
	default:
		kind = Created
	}

	seq := b.Seq()
	if n == nil {
		n = &node{rec: FileRecord{Name: st.Name}}
		n.elem = j.recency.PushFront(n)
		j.files[st.Name] = n
	} else {
		j.recency.MoveToFront(n.elem)
	}

	if last := len(n.history) - 1; last >= 0 && n.history[last].Seq > j.readMark.Load() {
		t := &n.history[last]
		t.Seq = seq
		switch {
		case !exists:
			t.Kind = Deleted
		case t.ExistedBefore:
			t.Kind = Modified
		default:
			t.Kind = Created
		}
	} else {
		n.history = append(n.history, Transition{Seq: seq, Kind: kind, ExistedBefore: existed})
	}

	n.rec.OTime = seq
	n.rec.Exists = exists
	if exists {
		if !existed {
			n.rec.CTime = seq
		}
		n.rec.ModTime = st.ModTime
		n.rec.Size = st.Size
		n.rec.Mode = st.Mode
		n.rec.Inode = st.Inode
	}
	return true
}

// Observe records that st.Name exists with the given stat. When skipUnchanged
// is set, an existing record with an identical stat is left alone.
func (b *Batch) Observe(st Stat, skipUnchanged bool) bool {
	if skipUnchanged {
		if n, ok := b.j.files[st.Name]; ok && n.rec.Exists && n.rec.statEquals(st) {
			return false
		}
	}
	return b.Append(Modified, st)
}

// Remove records that name no longer exists.
func (b *Batch) Remove(name string) bool {
	return b.Append(Deleted, Stat{Name: name})
}

// RemoveTree removes name and every existing path below it. It returns the
// number of paths removed.
func (b *Batch) RemoveTree(name string) int {
	removed := 0
	if b.Remove(name) {
		removed++
	}
	for _, child := range b.Descendants(name) {
		if b.Remove(child) {
			removed++
		}
	}
	return removed
}

// Descendants returns the existing paths strictly below name, sorted.
// An empty name means the whole root.
func (b *Batch) Descendants(name string) []string {
	prefix := name + "/"
	var out []string
	for p, n := range b.j.files {
		if !n.rec.Exists {
			continue
		}
		if name == "" || strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Reconcile makes the subtree at under (the whole root when empty) match
// observed: observed paths are recorded (unchanged ones skipped) and existing
// paths in the subtree that were not observed are deleted. It returns the
// number of created/modified and deleted paths.
func (b *Batch) Reconcile(under string, observed []Stat) (changed, deleted int) {
	seen := make(map[string]struct{}, len(observed))
	for _, st := range observed {
		seen[st.Name] = struct{}{}
		if b.Observe(st, true) {
			changed++
		}
	}
	for _, p := range b.Descendants(under) {
		if _, ok := seen[p]; ok {
			continue
		}
		if b.Remove(p) {
			deleted++
		}
	}
	return changed, deleted
}

func (r FileRecord) statEquals(st Stat) bool {
	return Stat{ModTime: r.ModTime, Size: r.Size, Mode: r.Mode, Inode: r.Inode}.sameAs(st)
}
