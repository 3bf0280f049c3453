package session

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound matches every NotFoundError
var ErrSessionNotFound = errors.New("interactive session not found")

// NotFoundError is returned for unknown or ended session ids
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found or no longer active", e.ID)
}

// Is allows errors.Is(err, ErrSessionNotFound).
func (e *NotFoundError) Is(target error) bool { return target == ErrSessionNotFound }
