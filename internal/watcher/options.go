package watcher

const (
	// BackendAuto picks inotify on Linux and fsnotify elsewhere.
	BackendAuto = "auto"
	// BackendInotify forces the Linux inotify backend.
	BackendInotify = "inotify"
	// BackendFsnotify forces the portable fsnotify backend.
	BackendFsnotify = "fsnotify"
)

// Options configures the file watcher behavior.
type Options struct {
	// Skip reports whether a directory should not be watched.
	Skip func(path string) bool
	// Backend selects the implementation (auto, inotify, fsnotify).
	Backend string
	// BufferSize is the capacity of the events channel.
	BufferSize int
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.Backend == "" {
		o.Backend = BackendAuto
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
}

// shouldSkip checks if a directory must not be watched.
func (o *Options) shouldSkip(path string) bool {
	return o.Skip != nil && o.Skip(path)
}
