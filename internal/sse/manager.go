package sse

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/treewatch/treewatch/internal/id"
)

// ErrShuttingDown is returned by Connect once Shutdown has started.
var ErrShuttingDown = errors.New("subscription manager is shutting down")

// Client represents a connected subscriber.
type Client struct {
	ConnectedAt time.Time
	Done        chan struct{}
	ID          string
	Root        string
}

// Manager tracks live subscriptions so shutdown can end them cleanly.
type Manager struct {
	clients map[string]*Client
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex

	shutdown bool
}

// NewManager creates a new SSE Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Connect registers a new subscriber to root.
func (m *Manager) Connect(root string) (*Client, error) {
	clientID, err := id.Generate("sub")
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:          clientID,
		Root:        root,
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.clients[client.ID] = client
	m.wg.Add(1)
	totalClients := len(m.clients)
	m.mu.Unlock()

	m.logger.Info("subscriber connected",
		slog.String("client_id", clientID),
		slog.String("root", root),
		slog.Int("total_clients", totalClients))
	return client, nil
}

// Disconnect removes a client.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	client, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	totalClients := len(m.clients)
	m.mu.Unlock()

	m.wg.Done()

	m.logger.Info("subscriber disconnected",
		slog.String("client_id", clientID),
		slog.Duration("duration", time.Since(client.ConnectedAt)),
		slog.Int("total_clients", totalClients))
}

// Shutdown signals every subscriber to finish and waits for their streams
// to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.shutdown {
		m.shutdown = true
		for _, client := range m.clients {
			close(client.Done)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all subscribers disconnected")
		return nil
	case <-ctx.Done():
		m.logger.Warn("subscriber drain timeout", slog.Int("remaining", m.ClientCount()))
		return ctx.Err()
	}
}

// Clients returns an iterator over all connected clients.
func (m *Manager) Clients() iter.Seq[*Client] {
	return func(yield func(*Client) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		for _, client := range m.clients {
			if !yield(client) {
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
