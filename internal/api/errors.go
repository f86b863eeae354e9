package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/treewatch/treewatch/internal/errors"
)

// APIError is a custom error type that implements huma.StatusError.
// It maps domain errors to HTTP responses with consistent structure.
type APIError struct { //nolint:revive // API prefix is intentional for clarity
	status  int
	Code    string `json:"code" doc:"Machine-readable error code"`
	Message string `json:"message" doc:"Human-readable error message"`
	Details any    `json:"details,omitempty" doc:"Additional error details"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.status
}

// ContentType returns the content type for the error response.
func (e *APIError) ContentType(_ string) string {
	return "application/json"
}

// RegisterErrorHandler configures huma to use domain errors.
// Call this after creating the huma.API but before registering routes.
func RegisterErrorHandler() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		for _, err := range errs {
			var domainErr *domainerrors.Error
			if errors.As(err, &domainErr) {
				return fromDomain(domainErr)
			}
		}

		// huma reports request validation failures as 422 with one error
		// per field; fold them into the VALIDATION shape.
		if status == http.StatusUnprocessableEntity {
			details := make([]string, 0, len(errs))
			for _, err := range errs {
				details = append(details, err.Error())
			}
			return &APIError{
				status:  http.StatusBadRequest,
				Code:    string(domainerrors.CodeValidation),
				Message: message,
				Details: details,
			}
		}

		return &APIError{
			status:  status,
			Code:    statusToCode(status),
			Message: message,
		}
	}
}

// toAPIError converts any handler error into an APIError.
func toAPIError(err error) error {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return fromDomain(domainErr)
	}
	return &APIError{
		status:  http.StatusInternalServerError,
		Code:    string(domainerrors.CodeInternal),
		Message: err.Error(),
	}
}

func fromDomain(err *domainerrors.Error) *APIError {
	return &APIError{
		status:  err.HTTPStatus(),
		Code:    string(err.Code),
		Message: err.Error(),
		Details: err.Details,
	}
}

// statusToCode maps HTTP status codes to our domain error codes.
func statusToCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(domainerrors.CodeValidation)
	case http.StatusNotFound:
		return string(domainerrors.CodeUnknownRoot)
	case http.StatusGone:
		return string(domainerrors.CodeRootFailed)
	case http.StatusTooManyRequests:
		return string(domainerrors.CodeRateLimited)
	case http.StatusGatewayTimeout:
		return string(domainerrors.CodeTimeout)
	default:
		return string(domainerrors.CodeInternal)
	}
}
