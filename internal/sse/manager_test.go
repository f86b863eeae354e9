package sse

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestManager_ConnectDisconnect(t *testing.T) {
	m := NewManager(testLogger())

	a, err := m.Connect("/a")
	require.NoError(t, err)
	b, err := m.Connect("/b")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, a.ID, "sub-")
	assert.Equal(t, 2, m.ClientCount())

	roots := map[string]bool{}
	for c := range m.Clients() {
		roots[c.Root] = true
	}
	assert.Equal(t, map[string]bool{"/a": true, "/b": true}, roots)

	m.Disconnect(a.ID)
	m.Disconnect(a.ID) // unknown IDs are ignored
	assert.Equal(t, 1, m.ClientCount())

	m.Disconnect(b.ID)
	assert.Zero(t, m.ClientCount())
}

func TestManager_ShutdownClosesClients(t *testing.T) {
	m := NewManager(testLogger())
	client, err := m.Connect("/a")
	require.NoError(t, err)

	go func() {
		<-client.Done
		m.Disconnect(client.ID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Zero(t, m.ClientCount())

	_, err = m.Connect("/a")
	assert.ErrorIs(t, err, ErrShuttingDown)

	// A second shutdown does not close the channels again.
	require.NoError(t, m.Shutdown(ctx))
}

func TestManager_ShutdownTimesOut(t *testing.T) {
	m := NewManager(testLogger())
	_, err := m.Connect("/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, m.ClientCount())
}
