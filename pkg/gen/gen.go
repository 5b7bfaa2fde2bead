// Package gen provides utility functions for generating identifiers.
package gen

import "github.com/google/uuid"

// RunID returns a random identifier for a run.
func RunID() string {
	return uuid.NewString()
}
