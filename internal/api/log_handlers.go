package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/treewatch/treewatch/internal/id"
	"github.com/treewatch/treewatch/internal/logger"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "log",
		Method:      http.MethodPost,
		Path:        "/api/v1/log",
		Summary:     "Write to the daemon log",
		Description: "Writes a client message to the daemon log. Has no effect on watch state.",
		Tags:        []string{"Diagnostics"},
		Middlewares: huma.Middlewares{s.rateLimit(s.logLimiter)},
	}, s.handleLog)
}

// LogRequest is a client message for the daemon log.
type LogRequest struct {
	Level   string `json:"level" validate:"required,loglevel" enum:"debug,info,warn,warning,error" doc:"Log level"`
	Message string `json:"message" validate:"required" doc:"Message text"`
}

// LogInput wraps the log request for Huma.
type LogInput struct {
	Body LogRequest
}

// LogResponse is the answer to log.
type LogResponse struct {
	Logged    bool   `json:"logged" doc:"Always true on success"`
	RequestID string `json:"request_id" doc:"Identifier attached to the log line"`
}

// LogOutput wraps the log response for Huma.
type LogOutput struct {
	Body LogResponse
}

func (s *Server) handleLog(ctx context.Context, input *LogInput) (*LogOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, toAPIError(err)
	}

	requestID := middleware.GetReqID(ctx)
	if requestID == "" {
		requestID = id.RequestID()
	}

	s.logger.LogAttrs(ctx, logger.ParseLevel(input.Body.Level), input.Body.Message,
		slog.String("source", "client"),
		slog.String("request_id", requestID))

	return &LogOutput{Body: LogResponse{Logged: true, RequestID: requestID}}, nil
}
