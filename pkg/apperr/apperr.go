// Package apperr holds the domain error taxonomy shared by the coordination components.
//
// Components wrap a sentinel with a human-readable reason:
//
//	return fmt.Errorf("%w: poll %s is not open", apperr.ErrInvalidOperation, id)
//
// Callers match with errors.Is and show Reason(err) to the user.
package apperr

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidStateTransition is returned when a transition is not valid from the current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrCapacityExceeded is returned when a configured resource limit was hit.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrInvalidPoll is returned for malformed polls or a second current poll.
	ErrInvalidPoll = errors.New("invalid poll")
	// ErrInvalidOperation is returned for out-of-order operations.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrPersistenceFailure is returned when the document store write failed after retries.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrTransportFailure is returned for RTC / messaging adapter errors.
	ErrTransportFailure = errors.New("transport failure")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
)

var sentinels = []error{
	ErrInvalidStateTransition,
	ErrCapacityExceeded,
	ErrInvalidPoll,
	ErrInvalidOperation,
	ErrPersistenceFailure,
	ErrTransportFailure,
	ErrNotFound,
	ErrForbidden,
}

// Kind returns the sentinel that err wraps, or nil if none.
func Kind(err error) error {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}

// Reason returns the human-readable part of a wrapped domain error.
// "invalid poll: a poll needs at least 2 options" -> "a poll needs at least 2 options".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrPersistenceFailure) {
		return "couldn't save, please retry"
	}
	msg := err.Error()
	if k := Kind(err); k != nil {
		prefix := k.Error() + ": "
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
	}
	return msg
}
