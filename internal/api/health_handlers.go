package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/treewatch/treewatch/internal/root"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns daemon health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"registry":    s.checkRegistry(),
		"state_store": s.checkStateStore(),
		"subscribers": s.checkSSEManager(),
	}

	overall := "healthy"
	for _, c := range components {
		switch c.Status {
		case "unhealthy":
			overall = "unhealthy"
		case "degraded":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkRegistry reports how many roots are watched and how many failed.
func (s *Server) checkRegistry() ComponentHealth {
	roots := s.roots.List()
	failed := 0
	for _, info := range roots {
		if info.State == root.StateFailed {
			failed++
		}
	}

	if failed > 0 {
		return ComponentHealth{
			Status:  "degraded",
			Message: fmt.Sprintf("%d of %d roots failed", failed, len(roots)),
		}
	}
	return ComponentHealth{
		Status:  "healthy",
		Message: pluralize(len(roots), "watched root"),
	}
}

// checkStateStore verifies BadgerDB is accessible.
func (s *Server) checkStateStore() ComponentHealth {
	if s.store == nil {
		return ComponentHealth{
			Status:  "healthy",
			Message: "persistence disabled",
		}
	}

	start := time.Now()
	err := s.store.Ping()
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Latency: latency.String(),
			Message: "state store read failed",
		}
	}
	return ComponentHealth{
		Status:  "healthy",
		Latency: latency.String(),
	}
}

// checkSSEManager reports the number of live subscriptions.
func (s *Server) checkSSEManager() ComponentHealth {
	if s.sseManager == nil {
		return ComponentHealth{
			Status:  "degraded",
			Message: "subscriptions not configured",
		}
	}
	return ComponentHealth{
		Status:  "healthy",
		Message: pluralize(s.sseManager.ClientCount(), "connected client"),
	}
}

func pluralize(count int, noun string) string {
	switch count {
	case 0:
		return "no " + noun + "s"
	case 1:
		return "1 " + noun
	default:
		return fmt.Sprintf("%d %ss", count, noun)
	}
}
