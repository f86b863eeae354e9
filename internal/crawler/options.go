package crawler

import (
	"path"
	"strings"
)

// CookiePrefix is the base name prefix of the sync cookie files written into
// watched roots. Cookies are never reported.
const CookiePrefix = ".treewatch-cookie-"

// Options configures what a crawl reports.
type Options struct {
	// IgnorePatterns are globs matched against base names. Matching paths,
	// and everything below matching directories, are not reported.
	IgnorePatterns []string
	// OpaqueDirs are base names of directories that are reported themselves
	// but whose contents are not (version control metadata).
	OpaqueDirs []string
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.OpaqueDirs == nil {
		o.OpaqueDirs = []string{".git", ".hg", ".svn"}
	}
}

// Ignored reports whether a root-relative name must not be reported.
func (o Options) Ignored(name string) bool {
	if name == "" {
		return false
	}

	base := path.Base(name)
	if strings.HasPrefix(base, CookiePrefix) {
		return true
	}
	for _, pattern := range o.IgnorePatterns {
		if matched, err := path.Match(pattern, base); err == nil && matched {
			return true
		}
	}

	// Anything inside an ignored or opaque directory is ignored too.
	dir := path.Dir(name)
	for dir != "." && dir != "/" {
		b := path.Base(dir)
		if o.isOpaque(b) {
			return true
		}
		for _, pattern := range o.IgnorePatterns {
			if matched, err := path.Match(pattern, b); err == nil && matched {
				return true
			}
		}
		dir = path.Dir(dir)
	}
	return false
}

// Opaque reports whether name is a directory whose contents are not reported.
func (o Options) Opaque(name string) bool {
	return o.isOpaque(path.Base(name))
}

func (o Options) isOpaque(base string) bool {
	for _, d := range o.OpaqueDirs {
		if base == d {
			return true
		}
	}
	return false
}

// IsCookie reports whether a root-relative name is a sync cookie.
func IsCookie(name string) bool {
	return strings.HasPrefix(path.Base(name), CookiePrefix)
}
