package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generate creates a prefixed unique ID using NanoID
// Format: prefix-nanoid (e.g., "sub-V1StGXR8_Z5jdHi6B-myT")
//
// NanoIDs are URL-friendly and compact (21 characters vs UUID's 36).
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := Token()
	if err != nil {
		return "", err
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Token returns a bare NanoID, suitable as a file name component.
func Token() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return id, nil
}

// RequestID returns a random UUID used to correlate a request across log lines.
func RequestID() string {
	return uuid.NewString()
}
