package clock

import (
	"fmt"
	"strings"
)

// CursorKind distinguishes literal clocks from named cursors.
type CursorKind int

const (
	// CursorClock is a literal "c:<epoch>:<seq>" clock.
	CursorClock CursorKind = iota
	// CursorNamed is an "n:<name>" cursor stored per root.
	CursorNamed
)

// String returns the string representation of the cursor kind.
func (k CursorKind) String() string {
	switch k {
	case CursorClock:
		return "clock"
	case CursorNamed:
		return "named"
	default:
		return "unknown"
	}
}

// Cursor is a parsed cursor spec.
type Cursor struct {
	Kind  CursorKind
	Clock Clock
	Name  string
}

// String renders the cursor back into its wire form.
func (c Cursor) String() string {
	if c.Kind == CursorNamed {
		return namePrefix + c.Name
	}
	return c.Clock.String()
}

// ParseCursor parses a cursor spec: either "c:<epoch>:<seq>" or "n:<name>".
func ParseCursor(spec string) (Cursor, error) {
	if name, ok := strings.CutPrefix(spec, namePrefix); ok {
		if name == "" {
			return Cursor{}, fmt.Errorf("cursor %q: empty name", spec)
		}
		return Cursor{Kind: CursorNamed, Name: name}, nil
	}

	if strings.HasPrefix(spec, clockPrefix) {
		c, err := Parse(spec)
		if err != nil {
			return Cursor{}, err
		}
		return Cursor{Kind: CursorClock, Clock: c}, nil
	}

	return Cursor{}, fmt.Errorf("cursor %q: must start with %q or %q", spec, clockPrefix, namePrefix)
}
