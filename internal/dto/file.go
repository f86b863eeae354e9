// Package dto provides Data Transfer Objects for API responses and SSE events.
//
// The same shapes are served by the command API, pushed on subscription
// streams and decoded by the CLI, so a file entry looks identical wherever a
// client meets it.
package dto

import (
	"time"

	"github.com/treewatch/treewatch/internal/journal"
	"github.com/treewatch/treewatch/internal/root"
)

// File is the client-facing representation of one changed path.
type File struct {
	Name   string `json:"name" doc:"Path relative to the root, slash separated"`
	Exists bool   `json:"exists" doc:"Whether the path exists now"`
	// New is omitted when false so clients can test for the key.
	New   bool   `json:"new,omitempty" doc:"The path did not exist at the cursor's clock"`
	Size  int64  `json:"size" doc:"Size in bytes"`
	MTime int64  `json:"mtime" doc:"Modification time, unix seconds"`
	Type  string `json:"type" enum:"f,d,l" doc:"f file, d directory, l symlink"`
}

// SinceResult is the answer to a since or find query.
type SinceResult struct {
	Clock           string `json:"clock" doc:"Clock to pass as the next cursor" example:"c:1718000000:42"`
	IsFreshInstance bool   `json:"is_fresh_instance" doc:"Full listing given instead of a delta"`
	Files           []File `json:"files" doc:"Changed paths, most recent first"`
}

// RootInfo summarizes a watched root.
type RootInfo struct {
	Path      string    `json:"path" doc:"Canonical root path"`
	State     string    `json:"state" enum:"crawling,watching,recrawling,failed" doc:"Lifecycle state"`
	Clock     string    `json:"clock" doc:"Current clock"`
	Files     int       `json:"files" doc:"Paths known to the journal, deleted ones included"`
	Recrawls  uint64    `json:"recrawls" doc:"Full recrawls after lost notifications"`
	WatchedAt time.Time `json:"watched_at" doc:"When this process started watching the root"`
}

// NewFile converts a journal change.
func NewFile(c journal.Change) File {
	f := File{
		Name:   c.Name,
		Exists: c.Exists,
		New:    c.New,
		Size:   c.Size,
		Type:   c.Type(),
	}
	if !c.ModTime.IsZero() {
		f.MTime = c.ModTime.Unix()
	}
	return f
}

// NewSinceResult converts a query response.
func NewSinceResult(resp root.Response) SinceResult {
	files := make([]File, len(resp.Files))
	for i, c := range resp.Files {
		files[i] = NewFile(c)
	}
	return SinceResult{
		Clock:           resp.Clock.String(),
		IsFreshInstance: resp.Fresh,
		Files:           files,
	}
}

// NewRootInfo converts a root summary.
func NewRootInfo(info root.Info) RootInfo {
	return RootInfo{
		Path:      info.Path,
		State:     info.State.String(),
		Clock:     info.Clock.String(),
		Files:     info.Files,
		Recrawls:  info.Recrawls,
		WatchedAt: info.CreatedAt,
	}
}
