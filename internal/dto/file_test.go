package dto

import (
	"encoding/json"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/journal"
	"github.com/treewatch/treewatch/internal/root"
)

func TestNewSinceResult(t *testing.T) {
	resp := root.Response{
		Clock: clock.Clock{Epoch: 3, Seq: 9},
		Fresh: true,
		Files: []journal.Change{
			{FileRecord: journal.FileRecord{Name: "src", Exists: true, Mode: fs.ModeDir, ModTime: time.Unix(1700, 0)}, New: true},
			{FileRecord: journal.FileRecord{Name: "gone.txt"}},
		},
	}

	got := NewSinceResult(resp)
	assert.Equal(t, "c:3:9", got.Clock)
	assert.True(t, got.IsFreshInstance)
	require.Len(t, got.Files, 2)
	assert.Equal(t, File{Name: "src", Exists: true, New: true, MTime: 1700, Type: "d"}, got.Files[0])
	assert.Equal(t, File{Name: "gone.txt", Type: "f"}, got.Files[1])
}

func TestFile_NewOmittedWhenFalse(t *testing.T) {
	data, err := json.Marshal(File{Name: "a", Exists: true, Type: "f"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"new"`)

	data, err = json.Marshal(File{Name: "a", Exists: true, New: true, Type: "f"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"new":true`)
}

func TestSinceResult_EmptyFilesIsArray(t *testing.T) {
	data, err := json.Marshal(NewSinceResult(root.Response{}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"files":[]`)
}

func TestNewRootInfo(t *testing.T) {
	at := time.Unix(1700, 0)
	got := NewRootInfo(root.Info{
		Path:      "/src",
		State:     root.StateWatching,
		Clock:     clock.Clock{Epoch: 1, Seq: 2},
		Files:     4,
		CreatedAt: at,
	})
	assert.Equal(t, RootInfo{Path: "/src", State: "watching", Clock: "c:1:2", Files: 4, WatchedAt: at}, got)
}
