package moderation

import (
	"errors"
	"fmt"
)

// Error classes. Every *Error matches exactly one of these with errors.Is.
var (
	// ErrValidation covers requests rejected before any mutation: protected
	// subjects, duplicate active cases and malformed durations.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers revokes with no active case and unresolvable subjects.
	ErrNotFound = errors.New("not found")
	// ErrExternalApply covers platform calls that failed after retries.
	ErrExternalApply = errors.New("external apply failed")
	// ErrConsistency covers drift found by reconciliation.
	ErrConsistency = errors.New("consistency check failed")
	// ErrConcurrency is returned when another action already holds the subject.
	ErrConcurrency = errors.New("subject is busy")
)

// Error is a classified moderation error scoped to one subject.
type Error struct {
	Class   error  // One of the Err* class sentinels
	Op      string // Operation that failed, e.g. "issue mute"
	Subject uint64 // Subject the operation targeted
	Message string // Human readable detail shown to the invoker
	Err     error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s subject %d: %s", e.Op, e.Subject, e.Class)
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Is makes errors.Is match the error class.
func (e *Error) Is(target error) bool {
	return target == e.Class
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConsistencyError reports drift between a stored case and the platform.
func ConsistencyError(op string, subject uint64, message string) *Error {
	return newError(ErrConsistency, op, subject, message, nil)
}

func newError(class error, op string, subject uint64, message string, err error) *Error {
	return &Error{Class: class, Op: op, Subject: subject, Message: message, Err: err}
}

// UserMessage converts an error into text suitable for the invoker.
// Unclassified errors are reported as internal failures without detail.
func UserMessage(err error) string {
	var modErr *Error
	if !errors.As(err, &modErr) {
		return "Something went wrong while processing this action. It has been logged."
	}

	switch modErr.Class {
	case ErrValidation, ErrNotFound:
		return modErr.Message
	case ErrConcurrency:
		return "Another action is already in progress for this user, try again in a moment."
	case ErrExternalApply:
		return "The action could not be applied: " + modErr.Message + ". It has been logged."
	default:
		return "Something went wrong while processing this action. It has been logged."
	}
}
