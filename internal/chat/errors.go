package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage rejects a send whose text is blank after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrAuthUnavailable means there is no current session.
	ErrAuthUnavailable = errors.New("no active session")
	// ErrLeagueNotOpen is returned for room operations on a league that has no open view.
	ErrLeagueNotOpen = errors.New("league chat is not open")
	// ErrNotRetryable is returned when retrying a message that is not in the error state.
	ErrNotRetryable = errors.New("message is not a failed send")
	// ErrNotPersisted rejects reactions on optimistic placeholders.
	ErrNotPersisted = errors.New("message is not persisted yet")
)

// TransportError wraps a network or store failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
