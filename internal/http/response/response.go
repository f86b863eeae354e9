// Package response writes JSON responses for handlers that live outside the
// huma API (the subscription stream), in the same shapes huma produces.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/treewatch/treewatch/internal/errors"
)

// ErrorBody is the body of every failed request.
type ErrorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		if logger != nil {
			logger.Error("Failed to encode JSON response", "error", err)
		}
	}
}

// Error writes a domain error with its mapped status.
func Error(w http.ResponseWriter, err *errors.Error, logger *slog.Logger) {
	JSON(w, err.HTTPStatus(), ErrorBody{
		Code:    err.Code,
		Message: err.Error(),
		Details: err.Details,
	}, logger)
}

// HandleError writes an appropriate HTTP response based on the error type.
// Domain errors keep their code, unknown errors become 500.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		Error(w, domainErr, logger)
		return
	}

	if logger != nil {
		logger.Error("Unhandled error", "error", err)
	}
	Error(w, errors.Internal("internal server error"), logger)
}
