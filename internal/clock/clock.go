// Package clock defines the per-root change clock and the cursor specs used to
// ask for changes relative to it.
//
// A clock is rendered as "c:<epoch>:<seq>". The sequence number counts journal
// ticks for one root and never resets; the epoch changes whenever the root's view
// of the filesystem had to be rebuilt (initial crawl, recrawl after overflow), so a
// clock from an older epoch can no longer be answered incrementally.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	clockPrefix = "c:"
	namePrefix  = "n:"
)

// Clock identifies a position in one root's change history.
type Clock struct {
	Epoch uint64
	Seq   uint64
}

// String renders the clock as "c:<epoch>:<seq>".
func (c Clock) String() string {
	return clockPrefix + strconv.FormatUint(c.Epoch, 10) + ":" + strconv.FormatUint(c.Seq, 10)
}

// IsZero reports whether c is the zero clock.
func (c Clock) IsZero() bool {
	return c.Epoch == 0 && c.Seq == 0
}

// Before reports whether c sorts strictly before other.
// Epochs are compared first; within an epoch the sequence decides.
func (c Clock) Before(other Clock) bool {
	if c.Epoch != other.Epoch {
		return c.Epoch < other.Epoch
	}
	return c.Seq < other.Seq
}

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse parses a "c:<epoch>:<seq>" token.
func Parse(s string) (Clock, error) {
	rest, ok := strings.CutPrefix(s, clockPrefix)
	if !ok {
		return Clock{}, fmt.Errorf("clock %q: missing %q prefix", s, clockPrefix)
	}

	epochStr, seqStr, ok := strings.Cut(rest, ":")
	if !ok {
		return Clock{}, fmt.Errorf("clock %q: expected c:<epoch>:<seq>", s)
	}

	epoch, err := strconv.ParseUint(epochStr, 10, 64)
	if err != nil {
		return Clock{}, fmt.Errorf("clock %q: invalid epoch: %w", s, err)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return Clock{}, fmt.Errorf("clock %q: invalid sequence: %w", s, err)
	}

	return Clock{Epoch: epoch, Seq: seq}, nil
}

// EpochSource hands out strictly increasing epochs.
// It is seeded from the wall clock so that epochs from a previous daemon
// process are never reissued.
type EpochSource struct {
	last atomic.Uint64
}

// NewEpochSource creates an epoch source seeded with the current unix time.
func NewEpochSource() *EpochSource {
	return NewEpochSourceAt(uint64(time.Now().Unix())) //nolint:gosec // unix time is positive
}

// NewEpochSourceAt creates an epoch source whose first epoch is seed+1.
func NewEpochSourceAt(seed uint64) *EpochSource {
	s := &EpochSource{}
	s.last.Store(seed)
	return s
}

// Next returns a new epoch, greater than every epoch returned before.
func (s *EpochSource) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recent epoch handed out, or the seed if none was.
func (s *EpochSource) Last() uint64 {
	return s.last.Load()
}
