package scanner

import (
	"errors"
	"fmt"
)

// Sentinel errors for scanner client failures.
var (
	ErrUnreachable       = errors.New("scanner unreachable")
	ErrTimeout           = errors.New("scanner timeout")
	ErrMalformedResponse = errors.New("scanner returned malformed response")
)

// Error wraps any scanner failure with the scan it was working on, so the
// scheduler can attribute the failure to a specific job. ScanID may be empty
// when the failure happened before a request was associated with a scan.
type Error struct {
	ScanID string
	Err    error
}

func (e *Error) Error() string {
	if e.ScanID == "" {
		return fmt.Sprintf("scanner: %v", e.Err)
	}
	return fmt.Sprintf("scanner: scan %s: %v", e.ScanID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
