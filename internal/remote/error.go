package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnection indicates the SSH connection could not be established.
	ErrConnection = errors.New("connection failed")

	// ErrCommandTimeout indicates a remote command exceeded its time bound.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrCommandFailed indicates a remote operation failed at the transport level.
	ErrCommandFailed = errors.New("command failed")

	// ErrTransport marks failures that invalidated the cached connection.
	ErrTransport = errors.New("transport lost")

	// ErrNotConnected is returned by file operations on a closed transport.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionError reports a failed dial or authentication.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrConnection).
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// CommandTimeoutError reports a command that did not finish in time.
type CommandTimeoutError struct {
	Host    string
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command on %s timed out after %s: %s", e.Host, e.Timeout, e.Command)
}

// Is allows errors.Is(err, ErrCommandTimeout).
func (e *CommandTimeoutError) Is(target error) bool { return target == ErrCommandTimeout }

// CommandFailureError reports a transport-level failure of a command or
// file operation. Output captured before the failure is kept.
type CommandFailureError struct {
	Host    string
	Command string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *CommandFailureError) Error() string {
	msg := fmt.Sprintf("%s on %s failed: %v", e.Command, e.Host, e.Err)
	if e.Stderr != "" {
		msg += "\nOutput: " + e.Stderr
	}
	return msg
}

func (e *CommandFailureError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrCommandFailed).
func (e *CommandFailureError) Is(target error) bool { return target == ErrCommandFailed }

// NewConnectionError creates a new ConnectionError
func NewConnectionError(host string, err error) *ConnectionError {
	return &ConnectionError{Host: host, Err: err}
}

// NewCommandTimeoutError creates a new CommandTimeoutError
func NewCommandTimeoutError(host, command string, timeout time.Duration) *CommandTimeoutError {
	return &CommandTimeoutError{Host: host, Command: command, Timeout: timeout}
}

// NewCommandFailureError creates a new CommandFailureError
func NewCommandFailureError(host, command string, err error) *CommandFailureError {
	return &CommandFailureError{Host: host, Command: command, Err: err}
}

// IsConnectionError checks if an error is a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsCommandTimeoutError checks if an error is a CommandTimeoutError
func IsCommandTimeoutError(err error) bool {
	var te *CommandTimeoutError
	return errors.As(err, &te)
}

// IsCommandFailureError checks if an error is a CommandFailureError
func IsCommandFailureError(err error) bool {
	var fe *CommandFailureError
	return errors.As(err, &fe)
}
