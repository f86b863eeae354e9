// Package crawler walks a watched root and reports what it finds.
package crawler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/treewatch/treewatch/internal/journal"
)

// Entry is one path discovered during a crawl.
type Entry struct {
	// Path is the absolute filesystem path.
	Path string
	// Stat carries the root-relative name and what lstat reported.
	Stat journal.Stat
}

// Crawler traverses directory trees and streams what it discovers.
type Crawler struct {
	logger *slog.Logger
	opts   Options
}

// New creates a new crawler.
func New(logger *slog.Logger, opts Options) *Crawler {
	opts.setDefaults()
	return &Crawler{
		logger: logger,
		opts:   opts,
	}
}

// Options returns the crawler's effective options.
func (c *Crawler) Options() Options {
	return c.opts
}

// Walk traverses root/under (the whole root when under is empty) and streams
// every path below it, under itself included. The root directory itself is
// never reported. Entries that cannot be read are logged and skipped.
// The channel closes when the walk is complete or ctx is canceled.
func (c *Crawler) Walk(ctx context.Context, root, under string) <-chan Entry {
	results := make(chan Entry, 100)

	go func() {
		defer close(results)

		start := root
		if under != "" {
			start = filepath.Join(root, filepath.FromSlash(under))
		}

		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err != nil {
				c.logger.Warn("crawl entry error", "path", path, "error", err)
				if d != nil && d.IsDir() && path != start {
					return filepath.SkipDir
				}
				return nil
			}

			if path == root {
				return nil
			}

			name, err := RelName(root, path)
			if err != nil {
				c.logger.Warn("failed to compute relative name", "path", path, "error", err)
				return nil
			}

			if c.opts.Ignored(name) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				// Vanished between readdir and lstat.
				c.logger.Warn("failed to get file info", "path", path, "error", err)
				return nil
			}

			select {
			case results <- Entry{Path: path, Stat: ToStat(name, info)}:
			case <-ctx.Done():
				return ctx.Err()
			}

			if d.IsDir() && c.opts.Opaque(name) {
				return filepath.SkipDir
			}
			return nil
		})

		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("crawl failed", "root", root, "under", under, "error", err)
		}
	}()

	return results
}

// Collect runs Walk to completion and returns the stats it produced.
func (c *Crawler) Collect(ctx context.Context, root, under string) ([]journal.Stat, error) {
	var out []journal.Stat
	for e := range c.Walk(ctx, root, under) {
		out = append(out, e.Stat)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stat lstats a single root-relative name. The boolean is false when the path
// does not exist (or is ignored).
func (c *Crawler) Stat(root, name string) (journal.Stat, bool, error) {
	if c.opts.Ignored(name) {
		return journal.Stat{}, false, nil
	}

	info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscallENOTDIR) {
			return journal.Stat{}, false, nil
		}
		return journal.Stat{}, false, err
	}
	return ToStat(name, info), true, nil
}

// ToStat converts lstat output into a journal stat.
func ToStat(name string, info fs.FileInfo) journal.Stat {
	return journal.Stat{
		Name:    name,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		Inode:   inodeOf(info),
	}
}

// RelName returns path relative to root as a slash separated name that can
// still be joined to root to reach the file. On darwin it is NFC normalised.
// Paths outside root are an error.
func RelName(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path is outside the root")
	}
	if rel == "." {
		return "", nil
	}
	return canonicalName(filepath.ToSlash(rel)), nil
}
