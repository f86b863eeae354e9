package root

// State is the lifecycle state of a watched root.
type State int32

const (
	// StateCrawling means the initial crawl or settle is still in progress.
	StateCrawling State = iota
	// StateWatching means notifications are applied as they arrive.
	StateWatching
	// StateRecrawling means a full re-walk is running after lost events.
	StateRecrawling
	// StateFailed is terminal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCrawling:
		return "crawling"
	case StateWatching:
		return "watching"
	case StateRecrawling:
		return "recrawling"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
