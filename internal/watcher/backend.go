package watcher

import "context"

// Backend defines the platform-specific file watching implementation
type Backend interface {
	// Watch adds a directory tree to be monitored. New subdirectories are
	// picked up automatically as they appear.
	Watch(path string) error

	// Start begins watching for events. This method should block until
	// Stop is called or the context is canceled.
	Start(ctx context.Context) error

	// Stop stops the watcher and releases all resources
	Stop() error

	// Events returns the channel for receiving file system events
	Events() <-chan Event

	// Errors returns the channel for receiving errors
	Errors() <-chan error
}
