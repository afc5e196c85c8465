// Package id mints identifiers for jobs and direct uploads.
package id

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
