//go:build !linux

package watcher

import (
	"errors"
	"log/slog"
)

// newLinuxBackend is unavailable off Linux; "auto" never selects it there.
func newLinuxBackend(_ *slog.Logger, _ Options) (Backend, error) {
	return nil, errors.New("inotify backend not available on this platform")
}
