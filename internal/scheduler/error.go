package scheduler

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrParse matches every ParseError
	ErrParse = errors.New("failed to parse scheduler output")

	// ErrAllocation matches every AllocationError
	ErrAllocation = errors.New("scheduler rejected the request")

	// ErrJobIDParseFailed indicates parsing job ID from output failed
	ErrJobIDParseFailed = errors.New("failed to parse job ID from scheduler output")

	// ErrInvalidTimeFormat indicates time format is invalid
	ErrInvalidTimeFormat = errors.New("invalid time format")
)

// ParseError represents scheduler output that could not be understood
type ParseError struct {
	Command string // Command whose output failed to parse
	Content string // Offending output
	Reason  string // Reason for parse failure
}

func (e *ParseError) Error() string {
	if e.Content != "" {
		return fmt.Sprintf("%s parse error: %s (%q)", e.Command, e.Reason, e.Content)
	}
	return fmt.Sprintf("%s parse error: %s", e.Command, e.Reason)
}

// Is allows errors.Is(err, ErrParse).
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// AllocationError represents a failed sbatch or salloc
type AllocationError struct {
	Command string // sbatch or salloc
	Output  string // Scheduler output (stderr and stdout)
	Err     error  // Underlying error
}

func (e *AllocationError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed: %v\nOutput: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrAllocation).
func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

// Helper functions for creating errors

// NewParseError creates a new ParseError
func NewParseError(command, content, reason string) *ParseError {
	return &ParseError{
		Command: command,
		Content: content,
		Reason:  reason,
	}
}

// NewAllocationError creates a new AllocationError
func NewAllocationError(command, output string, err error) *AllocationError {
	return &AllocationError{
		Command: command,
		Output:  output,
		Err:     err,
	}
}
