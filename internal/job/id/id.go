// Package id generates identifiers for conversion jobs.
package id

import "github.com/google/uuid"

// Prefix marks conversion job identifiers in logs and API responses.
const Prefix = "conv"

// Generate returns a new conversion job ID of the form conv-<uuid>.
func Generate() string {
	return Prefix + "-" + uuid.NewString()
}
