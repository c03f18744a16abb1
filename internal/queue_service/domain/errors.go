package domain

import "errors"

var (
	// ErrNotFound is returned when a queue item does not exist or is no longer
	// in the state a conditional update requires.
	ErrNotFound = errors.New("queue item not found")

	// ErrNoDueItems is returned by AcquireDue when nothing is ready.
	ErrNoDueItems = errors.New("no due queue items")

	// ErrDuplicateMessage is returned when an enqueue collides with an existing
	// (tenant_id, message_id) pair; the original item stands.
	ErrDuplicateMessage = errors.New("message already enqueued")
)

// terminalError marks a processing failure that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the retry scheduler fails the item immediately
// instead of rescheduling it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or anything it wraps) was marked terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
