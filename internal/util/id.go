package util

import "github.com/google/uuid"

// NewID returns a random request id.
func NewID() string {
	return uuid.NewString()
}
