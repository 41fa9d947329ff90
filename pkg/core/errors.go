// pkg/core/errors.go
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced fight, shot or character does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCommitFailure is matched by every CommitError.
	ErrCommitFailure = errors.New("commit failed")

	// ErrConstraintViolation is returned when the store rejects a write on a
	// uniqueness or check constraint.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvalid is returned for arguments that can never succeed.
	ErrInvalid = errors.New("invalid argument")

	// ErrFightEnded is returned when finalizing a fight that is no longer active.
	ErrFightEnded = errors.New("fight already ended")
)

// CommitError reports a transaction that was rolled back.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrCommitFailure, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Is matches ErrCommitFailure.
func (e *CommitError) Is(target error) bool {
	return target == ErrCommitFailure
}

// WrapCommit classifies an error returned from a store transaction. Domain
// errors pass through unchanged; anything else becomes a CommitError. That
// includes context.Canceled and context.DeadlineExceeded: the transaction
// was still rolled back, and errors.Is finds the context error through
// Unwrap for callers that report cancellation separately.
func WrapCommit(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{ErrNotFound, ErrInvalid, ErrConstraintViolation, ErrFightEnded} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return &CommitError{Op: op, Err: err}
}
