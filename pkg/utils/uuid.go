package utils

import (
	"github.com/google/uuid"
)

// NewJobID returns a random RFC 4122 v4 identifier for a render job.
func NewJobID() string {
	return uuid.NewString()
}

// IsJobID reports whether s parses as a UUID.
func IsJobID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
