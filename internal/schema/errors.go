package schema

import "fmt"

// Reason identifies why a schema failed to execute.
type Reason string

// Execution failure reasons.
const (
	ReasonInvalidHTML     Reason = "invalid_html"
	ReasonInvalidSelector Reason = "invalid_selector"
	ReasonNoContainers    Reason = "no_containers"
	ReasonMissingTitle    Reason = "missing_title"
	ReasonMissingURL      Reason = "missing_url"
	ReasonNoWellFormed    Reason = "no_well_formed"
)

// ExecutionError reports a schema that could not produce any well-formed
// record against the given HTML.
type ExecutionError struct {
	Reason   Reason
	Selector string
	Matched  int
	Cause    error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("schema execution failed: %s", e.Reason)
	if e.Selector != "" {
		msg += fmt.Sprintf(" (selector %q", e.Selector)
		if e.Matched > 0 {
			msg += fmt.Sprintf(", %d containers matched", e.Matched)
		}
		msg += ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
