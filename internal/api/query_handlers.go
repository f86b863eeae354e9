package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/treewatch/treewatch/internal/clock"
	"github.com/treewatch/treewatch/internal/dto"
	"github.com/treewatch/treewatch/internal/errors"
	"github.com/treewatch/treewatch/internal/root"
)

func (s *Server) registerQueryRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "clock",
		Method:      http.MethodPost,
		Path:        "/api/v1/clock",
		Summary:     "Current clock",
		Description: "Returns the root's current clock, after syncing to now unless sync_timeout is 0",
		Tags:        []string{"Queries"},
	}, s.handleClock)

	huma.Register(s.api, huma.Operation{
		OperationID: "since",
		Method:      http.MethodPost,
		Path:        "/api/v1/since",
		Summary:     "Changes since a cursor",
		Description: "Returns the paths that changed after a clock (c:<epoch>:<seq>) or named cursor (n:<name>). " +
			"A named cursor is advanced to the returned clock. With wait_timeout, an empty answer long-polls until something changes.",
		Tags: []string{"Queries"},
	}, s.handleSince)

	huma.Register(s.api, huma.Operation{
		OperationID: "find",
		Method:      http.MethodPost,
		Path:        "/api/v1/find",
		Summary:     "Find files",
		Description: "Returns existing paths whose relative name or base name matches any of the glob patterns",
		Tags:        []string{"Queries"},
	}, s.handleFind)
}

// ClockRequest asks for a root's clock.
type ClockRequest struct {
	Root        string `json:"root" validate:"required" doc:"Watched root path"`
	SyncTimeout string `json:"sync_timeout,omitempty" doc:"Sync-to-now timeout; 0 disables, empty uses the daemon default" example:"5s"`
}

// ClockInput wraps the clock request for Huma.
type ClockInput struct {
	Body ClockRequest
}

// ClockResponse is the answer to clock.
type ClockResponse struct {
	Clock string `json:"clock" doc:"Current clock" example:"c:1718000000:42"`
}

// ClockOutput wraps the clock response for Huma.
type ClockOutput struct {
	Body ClockResponse
}

// SinceRequest asks what changed after a cursor.
type SinceRequest struct {
	Root        string `json:"root" validate:"required" doc:"Watched root path"`
	Cursor      string `json:"cursor" validate:"required,cursor" doc:"Clock or named cursor" example:"n:build"`
	SyncTimeout string `json:"sync_timeout,omitempty" doc:"Sync-to-now timeout; 0 disables, empty uses the daemon default" example:"5s"`
	WaitTimeout string `json:"wait_timeout,omitempty" doc:"Long-poll an empty answer for up to this long" example:"30s"`
}

// SinceInput wraps the since request for Huma.
type SinceInput struct {
	Body SinceRequest
}

// FindRequest asks for existing paths matching globs.
type FindRequest struct {
	Root        string   `json:"root" validate:"required" doc:"Watched root path"`
	Patterns    []string `json:"patterns,omitempty" validate:"dive,glob" doc:"Glob patterns; none lists every path"`
	SyncTimeout string   `json:"sync_timeout,omitempty" doc:"Sync-to-now timeout; 0 disables, empty uses the daemon default" example:"5s"`
}

// FindInput wraps the find request for Huma.
type FindInput struct {
	Body FindRequest
}

// SinceOutput wraps a since or find result for Huma.
type SinceOutput struct {
	Body dto.SinceResult
}

func (s *Server) handleClock(ctx context.Context, input *ClockInput) (*ClockOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, toAPIError(err)
	}
	syncTimeout, err := parseTimeout("sync_timeout", input.Body.SyncTimeout, s.opts.SyncTimeout)
	if err != nil {
		return nil, toAPIError(err)
	}

	rt, err := s.roots.Get(input.Body.Root)
	if err != nil {
		return nil, toAPIError(err)
	}
	c, err := rt.Clock(ctx, syncTimeout)
	if err != nil {
		return nil, toAPIError(err)
	}

	return &ClockOutput{Body: ClockResponse{Clock: c.String()}}, nil
}

func (s *Server) handleSince(ctx context.Context, input *SinceInput) (*SinceOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, toAPIError(err)
	}
	cursor, err := clock.ParseCursor(input.Body.Cursor)
	if err != nil {
		return nil, toAPIError(errors.Validationf("invalid cursor: %v", err))
	}
	syncTimeout, err := parseTimeout("sync_timeout", input.Body.SyncTimeout, s.opts.SyncTimeout)
	if err != nil {
		return nil, toAPIError(err)
	}
	waitTimeout, err := parseTimeout("wait_timeout", input.Body.WaitTimeout, 0)
	if err != nil {
		return nil, toAPIError(err)
	}

	rt, err := s.roots.Get(input.Body.Root)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp, err := rt.Since(ctx, cursor, root.QueryOptions{
		SyncTimeout: syncTimeout,
		WaitTimeout: waitTimeout,
	})
	if err != nil {
		return nil, toAPIError(err)
	}

	return &SinceOutput{Body: dto.NewSinceResult(resp)}, nil
}

func (s *Server) handleFind(ctx context.Context, input *FindInput) (*SinceOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, toAPIError(err)
	}
	syncTimeout, err := parseTimeout("sync_timeout", input.Body.SyncTimeout, s.opts.SyncTimeout)
	if err != nil {
		return nil, toAPIError(err)
	}

	rt, err := s.roots.Get(input.Body.Root)
	if err != nil {
		return nil, toAPIError(err)
	}
	resp, err := rt.Find(ctx, input.Body.Patterns, syncTimeout)
	if err != nil {
		return nil, toAPIError(err)
	}

	return &SinceOutput{Body: dto.NewSinceResult(resp)}, nil
}

// parseTimeout parses an optional duration field; empty yields def.
func parseTimeout(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, errors.Validationf("invalid %s %q", field, value)
	}
	return d, nil
}
