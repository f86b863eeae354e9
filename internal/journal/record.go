package journal

import (
	"io/fs"
	"time"
)

// Kind is the kind of change recorded for a path.
type Kind int

const (
	// Created means the path came into existence.
	Created Kind = iota
	// Modified means an existing path changed.
	Modified
	// Deleted means the path stopped existing.
	Deleted
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Stat is what the filesystem told us about a path.
type Stat struct {
	Name    string // slash separated, relative to the root
	ModTime time.Time
	Size    int64
	Mode    fs.FileMode
	Inode   uint64
}

// sameAs reports whether two stats describe the same observable state.
func (s Stat) sameAs(o Stat) bool {
	return s.ModTime.Equal(o.ModTime) &&
		s.Size == o.Size &&
		s.Mode.Type() == o.Mode.Type() &&
		s.Inode == o.Inode
}

// FileRecord is the current state of one path.
type FileRecord struct {
	Name    string
	Exists  bool
	ModTime time.Time
	Size    int64
	Mode    fs.FileMode
	Inode   uint64

	// CTime is the tick at which the path last came into existence.
	CTime uint64
	// OTime is the tick of the path's last change.
	OTime uint64
}

// IsDir reports whether the record describes a directory.
func (r FileRecord) IsDir() bool {
	return r.Mode.IsDir()
}

// Type returns a one letter type code: "d" directory, "l" symlink, "f" otherwise.
func (r FileRecord) Type() string {
	switch {
	case r.Mode.IsDir():
		return "d"
	case r.Mode&fs.ModeSymlink != 0:
		return "l"
	default:
		return "f"
	}
}

// Transition is one logical change to a path.
//
// Several raw changes that happen between two reads collapse into one
// transition; ExistedBefore keeps whether the path existed before the first
// of them, which is all a cursor older than the transition needs to know.
type Transition struct {
	Seq           uint64
	Kind          Kind
	ExistedBefore bool
}

// Change is one entry of a query result.
type Change struct {
	FileRecord
	// New is true when the path did not exist at the queried tick.
	New bool
}
