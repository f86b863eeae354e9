// Package validation provides request and configuration validation using the validator/v10 library.
package validation

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/treewatch/treewatch/internal/clock"
	domainerrors "github.com/treewatch/treewatch/internal/errors"
)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator configured for our domain.
func New() *Validator {
	v := validator.New()

	// Use JSON tag names in error messages, falling back to env names for config.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "env"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	// Errors are impossible here: the tags are non-empty and the funcs non-nil.
	_ = v.RegisterValidation("cursor", validateCursor)
	_ = v.RegisterValidation("glob", validateGlob)
	_ = v.RegisterValidation("loglevel", validateLogLevel)

	return &Validator{v: v}
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// formatError converts validator errors to domain errors.
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Collect all field errors
	fieldErrors := make(map[string]string)
	for _, e := range validationErrs {
		fieldErrors[e.Field()] = v.friendlyMessage(e)
	}

	fields := make([]string, 0, len(fieldErrors))
	for field, msg := range fieldErrors {
		fields = append(fields, field+" "+msg)
	}
	slices.Sort(fields)

	// Return domain validation error with details
	return domainerrors.ValidationWithDetails("validation failed: "+strings.Join(fields, "; "), fieldErrors)
}

//nolint:gocyclo // Switch statement covering validation tags is intentionally exhaustive.
func (v *Validator) friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s", e.Param())
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "lt":
		return "must be less than " + e.Param()
	case "hostname_port":
		return "must be a host:port address"
	case "cursor":
		return "must be a clock (c:<epoch>:<seq>) or a named cursor (n:<name>)"
	case "glob":
		return "must be a valid glob pattern"
	case "loglevel":
		return "must be one of: debug info warn error"
	default:
		return "is invalid"
	}
}

func validateCursor(fl validator.FieldLevel) bool {
	_, err := clock.ParseCursor(fl.Field().String())
	return err == nil
}

func validateGlob(fl validator.FieldLevel) bool {
	_, err := path.Match(fl.Field().String(), "")
	return err == nil
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}
