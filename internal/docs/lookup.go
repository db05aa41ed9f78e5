// Package docs fetches library documentation for the tech stack named in a
// research request.
package docs

import (
	"context"
	"errors"
)

// ErrNotFound means the documentation service has nothing for the library.
var ErrNotFound = errors.New("docs: not found")

// Lookup fetches documentation prose and code for library, focused on topic.
type Lookup interface {
	Fetch(ctx context.Context, library, topic string) (string, error)
}
