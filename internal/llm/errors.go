package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization marks failures while preparing the chat backend.
	ErrInitialization    = errors.New("initialization failed")
	ErrNoCompatibleModel = fmt.Errorf("%w: no compatible model available", ErrInitialization)
	ErrSessionBusy       = errors.New("a reply is already in progress for this session")
	ErrEmptyMessage      = errors.New("message is empty")
)

// TurnError is returned when the provider fails to answer a turn. The
// session stays usable.
type TurnError struct {
	Err error
	// RolledBack reports whether the user turn was removed again.
	RolledBack bool
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed: %v", e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
