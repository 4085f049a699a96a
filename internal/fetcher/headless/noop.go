package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop stands in when headless rendering is disabled. Every call fails so
// promotion falls back to the plain response.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ blog.FetchRequest) (blog.FetchResponse, error) {
	return blog.FetchResponse{}, ErrDisabled
}
