package crawler

import "golang.org/x/text/unicode/norm"

// canonicalName folds a relative name to NFC. Darwin filesystems look names up
// regardless of normalisation, so the composed spelling still opens the file
// while events and directory listings may report either form.
func canonicalName(name string) string {
	return norm.NFC.String(name)
}
