package util

import "github.com/google/uuid"

// NewID returns a random UUID string, the identifier format used across the
// database schema.
func NewID() string {
	return uuid.NewString()
}
