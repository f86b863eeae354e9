package store

import "sync"

// Key prefixes.
const (
	rootPrefix = "root:"
	metaPrefix = "meta:"
)

// keyPool provides reusable byte slices for building database keys.
var keyPool = sync.Pool{
	New: func() any {
		// Root paths are usually well under 256 bytes.
		return make([]byte, 0, 256)
	},
}

// buildKey constructs a database key from prefix and suffix using a pooled buffer.
// The returned slice is valid until releaseKey is called.
// Callers MUST call releaseKey when done with the key.
//
// Usage:
//
//	key := buildKey(rootPrefix, path)
//	defer releaseKey(key)
//	err := s.get(key, &rec)
func buildKey(prefix, suffix string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0] // Reset length, keep capacity
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return buf
}

// releaseKey returns a key buffer to the pool for reuse.
// After calling this, the key slice must not be used.
func releaseKey(key []byte) {
	// Avoids keeping oversized buffers in the pool
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}
