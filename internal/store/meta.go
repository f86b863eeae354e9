package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const epochKey = "epoch"

// EpochFloor returns the highest epoch recorded by a previous process, or
// zero if none was recorded.
func (s *Store) EpochFloor(_ context.Context) (uint64, error) {
	key := buildKey(metaPrefix, epochKey)
	defer releaseKey(key)

	var epoch uint64
	if err := s.get(key, &epoch); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get epoch floor: %w", err)
	}
	return epoch, nil
}

// SetEpochFloor records epoch as handed out. Lower values are ignored so the
// floor never moves backwards.
func (s *Store) SetEpochFloor(ctx context.Context, epoch uint64) error {
	current, err := s.EpochFloor(ctx)
	if err != nil {
		return err
	}
	if epoch <= current {
		return nil
	}

	key := buildKey(metaPrefix, epochKey)
	defer releaseKey(key)

	if err := s.set(key, epoch); err != nil {
		return fmt.Errorf("failed to set epoch floor: %w", err)
	}
	return nil
}
