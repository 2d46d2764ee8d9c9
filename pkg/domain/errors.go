package domain

import "fmt"

// FormatError reports structurally malformed event-record content: broken
// headers, unbalanced event markers, or non-numeric momentum fields. It is
// fatal to the whole run; per-event observable failures are handled locally
// and never surface as a FormatError.
type FormatError struct {
	Path   string
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("lhe %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("lhe %s: %s", e.Path, e.Reason)
}

// ConsistencyError reports a shape or key-set mismatch between a new sample
// and the running merged dataset. Expected/Actual are populated for count
// mismatches and zero otherwise.
type ConsistencyError struct {
	Path     string
	Reason   string
	Expected int
	Actual   int
}

func (e *ConsistencyError) Error() string {
	msg := e.Reason
	if e.Expected != 0 || e.Actual != 0 {
		msg = fmt.Sprintf("%s: expected %d, got %d", msg, e.Expected, e.Actual)
	}
	if e.Path != "" {
		return fmt.Sprintf("sample %s: %s", e.Path, msg)
	}
	return msg
}
