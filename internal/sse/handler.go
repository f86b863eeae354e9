package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/dto"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/http/response"
	"github.com/treewatch/treewatch/internal/root"
)

const (
	defaultHeartbeat = 30 * time.Second
	defaultPollWait  = 25 * time.Second
	writeDeadline    = 60 * time.Second
)

// Roots looks up watched roots by path.
type Roots interface {
	Get(path string) (*root.Root, error)
}

// Handler streams a root's changes at GET /api/v1/subscribe?root=<path>.
//
// The stream opens with a subscribed event carrying the starting clock, then
// sends one changes event per batch, each relative to the previous event.
// An optional since=<cursor> query parameter starts the stream from that
// cursor instead of now.
type Handler struct {
	manager   *Manager
	roots     Roots
	logger    *slog.Logger
	heartbeat time.Duration
	pollWait  time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, roots Roots, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		roots:     roots,
		logger:    logger,
		heartbeat: defaultHeartbeat,
		pollWait:  defaultPollWait,
	}
}

// update is one pull from the root: a result to send or the error ending
// the stream.
type update struct {
	result dto.SinceResult
	err    error
}

// ServeHTTP handles the SSE connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if ctx.Err() != nil {
		return
	}

	path := r.URL.Query().Get("root")
	if path == "" {
		h.writeError(w, errors.Validation("root is required"))
		return
	}
	rt, err := h.roots.Get(path)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cursor, err := h.startCursor(ctx, rt, r.URL.Query().Get("since"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(rt.Path())
	if err != nil {
		h.logger.Warn("refusing subscriber", slog.String("error", err.Error()))
		return
	}
	defer h.manager.Disconnect(client.ID)

	clientLogger := h.logger.With(
		slog.String("client_id", client.ID),
		slog.String("root", rt.Path()))

	if err := h.sendEvent(w, rc, NewSubscribedEvent(client.ID, rt.Path(), cursor.String())); err != nil {
		clientLogger.Warn("failed to send subscribed event", slog.String("error", err.Error()))
		return
	}

	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := make(chan update)
	go h.pull(pullCtx, rt, cursor, updates)

	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case u := <-updates:
			if u.err != nil {
				clientLogger.Info("subscription ended", slog.String("reason", u.err.Error()))
				_ = h.sendEvent(w, rc, NewCancelledEvent(u.err.Error()))
				return
			}
			if err := h.sendEvent(w, rc, NewChangesEvent(u.result)); err != nil {
				clientLogger.Info("client disconnected during send")
				return
			}

		case <-heartbeatTicker.C:
			if err := h.sendEvent(w, rc, NewHeartbeatEvent()); err != nil {
				clientLogger.Info("client disconnected during heartbeat")
				return
			}

		case <-client.Done:
			clientLogger.Info("client closed by manager")
			_ = h.sendEvent(w, rc, NewCancelledEvent("server shutting down"))
			return

		case <-ctx.Done():
			clientLogger.Info("client context canceled")
			return
		}
	}
}

// startCursor resolves the clock the stream starts from.
func (h *Handler) startCursor(ctx context.Context, rt *root.Root, since string) (clock.Cursor, error) {
	if since != "" {
		cursor, err := clock.ParseCursor(since)
		if err != nil {
			return clock.Cursor{}, errors.Validationf("invalid since: %v", err)
		}
		return cursor, nil
	}
	now, err := rt.Clock(ctx, 0)
	if err != nil {
		return clock.Cursor{}, err
	}
	return clock.Cursor{Kind: clock.CursorClock, Clock: now}, nil
}

// pull long-polls the root and forwards every non-empty result. After the
// first answer the cursor is always a literal clock, so a named cursor is
// advanced exactly once per stream.
func (h *Handler) pull(ctx context.Context, rt *root.Root, cursor clock.Cursor, out chan<- update) {
	for {
		resp, err := rt.Since(ctx, cursor, root.QueryOptions{WaitTimeout: h.pollWait})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case out <- update{err: err}:
			case <-ctx.Done():
			}
			return
		}

		if resp.Fresh || len(resp.Files) > 0 {
			select {
			case out <- update{result: dto.NewSinceResult(resp)}:
			case <-ctx.Done():
				return
			}
		}
		cursor = clock.Cursor{Kind: clock.CursorClock, Clock: resp.Clock}
	}
}

// sendEvent writes an SSE event to the response writer.
func (h *Handler) sendEvent(w http.ResponseWriter, rc *http.ResponseController, event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}

	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset after each successful write so a stalled reader cannot pin the
	// connection forever.
	if err := rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}
	return nil
}

// writeError answers a request that never became a stream.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	response.HandleError(w, err, h.logger)
}
