package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or expired session ids
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict means the stored version moved past the caller's expected version
	ErrVersionConflict = errors.New("session version conflict")

	// ErrConcurrentUpdateExhausted is returned once the bounded CAS retry loop gives up
	ErrConcurrentUpdateExhausted = errors.New("concurrent update retries exhausted")

	// ErrInvalidTransition covers disallowed status moves and any mutation of a terminal session
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrInvalidRole is returned when a role is not one of the defined values
	ErrInvalidRole = errors.New("invalid session role")

	// ErrStoreUnavailable means the session store cannot be reached at all
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrStoreTimeout is a transient store failure, retried like a version conflict
	ErrStoreTimeout = errors.New("session store timeout")

	// ErrNoPendingSession means a reply had no pending session to attach to
	ErrNoPendingSession = errors.New("no pending session")
)

// VersionConflictError carries the record as it was read when the conflict was detected
type VersionConflictError struct {
	SessionID string
	Expected  int64
	Current   *Session
}

func (e *VersionConflictError) Error() string {
	actual := int64(-1)
	if e.Current != nil {
		actual = e.Current.Version
	}
	return fmt.Sprintf("session %s: expected version %d, found %d", e.SessionID, e.Expected, actual)
}

// Is lets errors.Is(err, ErrVersionConflict) match
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// TransitionError describes a rejected status change
type TransitionError struct {
	SessionID string
	From      SessionStatus
	To        SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot move from %s to %s", e.SessionID, e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsRetryable reports whether a session mutation failure may succeed on another attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrStoreTimeout)
}
