//go:build !darwin

package crawler

// canonicalName returns name as is. These filesystems store names as raw
// bytes, so a normalised spelling may not open the file it came from.
func canonicalName(name string) string {
	return name
}
