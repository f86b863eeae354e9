package crawler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelName_ComposesDecomposedNames(t *testing.T) {
	root := t.TempDir()

	name, err := RelName(root, filepath.Join(root, "cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", name)

	c := newTestCrawler(Options{})
	require.NoError(t, writeTestFile(root, "cafe\u0301"))

	_, ok, err := c.Stat(root, name)
	require.NoError(t, err)
	assert.True(t, ok, "composed spelling opens the decomposed file")
}
