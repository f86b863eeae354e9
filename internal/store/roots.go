package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrRootNotFound is returned when no record exists for a path.
var ErrRootNotFound = errors.New("root not found")

// RootRecord is the persisted form of a watched root.
type RootRecord struct {
	Path      string    `json:"path"`
	WatchedAt time.Time `json:"watched_at"`
}

// PutRoot records that path is watched. Re-putting a path keeps its
// original WatchedAt.
func (s *Store) PutRoot(_ context.Context, path string) error {
	key := buildKey(rootPrefix, path)
	defer releaseKey(key)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("failed to check root %s: %w", path, err)
	}
	if exists {
		return nil
	}

	if err := s.set(key, RootRecord{Path: path, WatchedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to save root %s: %w", path, err)
	}
	return nil
}

// GetRoot returns the record for path.
func (s *Store) GetRoot(_ context.Context, path string) (*RootRecord, error) {
	key := buildKey(rootPrefix, path)
	defer releaseKey(key)

	var rec RootRecord
	if err := s.get(key, &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrRootNotFound
		}
		return nil, fmt.Errorf("failed to get root %s: %w", path, err)
	}
	return &rec, nil
}

// DeleteRoot forgets path. Deleting an unknown path is not an error.
func (s *Store) DeleteRoot(_ context.Context, path string) error {
	key := buildKey(rootPrefix, path)
	defer releaseKey(key)

	if err := s.delete(key); err != nil {
		return fmt.Errorf("failed to delete root %s: %w", path, err)
	}
	return nil
}

// ListRoots returns every recorded root ordered by path.
func (s *Store) ListRoots(_ context.Context) ([]RootRecord, error) {
	var roots []RootRecord
	err := s.scan([]byte(rootPrefix), func(val []byte) error {
		var rec RootRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		roots = append(roots, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list roots: %w", err)
	}
	return roots, nil
}
