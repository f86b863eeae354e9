package watcher

// EventType represents the type of file system event
type EventType int

const (
	// EventAdded is emitted when a path is created.
	EventAdded EventType = iota
	// EventModified is emitted when an existing path changes content or metadata.
	EventModified
	// EventRemoved is emitted when a path is deleted or moved out of view.
	EventRemoved
	// EventMoved is emitted when a path is renamed within the watched tree.
	EventMoved
	// EventOverflow is emitted when events were lost and the tree must be recrawled.
	EventOverflow
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	case EventMoved:
		return "moved"
	case EventOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event represents a file system event
type Event struct {
	// Type is the kind of event.
	Type EventType

	// Path is the current absolute path. Empty for overflow events.
	Path string

	// OldPath is the previous path (only for move events)
	OldPath string

	// IsDir is set when the backend knows the path is a directory.
	IsDir bool
}
