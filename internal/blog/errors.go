package blog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown blog or post identifiers.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL is returned when a blog or post URL is already stored.
	ErrDuplicateURL = errors.New("duplicate post url")
	// ErrNotAccepted is returned when discovery runs without an accepted schema.
	ErrNotAccepted = errors.New("blog has no accepted schema")
	// ErrExhausted marks a blog whose refinement budget is spent.
	ErrExhausted = errors.New("refinement attempts exhausted")
	// ErrInvalidURL is returned for blog URLs that are not absolute http(s).
	ErrInvalidURL = errors.New("invalid blog url")
	// ErrQueueClosed is returned by a task queue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchError is a network failure that outlived the retry budget.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Cause      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s failed after %d attempt(s)", e.URL, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Cause }

// GenerationError reports an oracle that could not produce a usable schema.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema generation: %s: %v", e.Message, e.Cause)
	}
	return "schema generation: " + e.Message
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ExtractionError reports a per-post enrichment failure.
type ExtractionError struct {
	URL   string
	Stage string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.URL, e.Stage, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }
