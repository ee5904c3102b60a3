package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrWorkoutNotFound = errors.New("workout not found")
	ErrUnknownField    = errors.New("unknown field")
	ErrRowNotFound     = errors.New("exercise row not found")
	ErrStoreClosed     = errors.New("workout store closed")
)

// ValidationError is a single field-level violation
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every violation found in one candidate
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether a violation was recorded for field
func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

// RemoteWriteError is a transport or provider rejection of create/update/remove.
// The optimistic change that triggered it has been rolled back.
type RemoteWriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s of %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// Retryable is always true; remote write failures never leave partial state behind
func (e *RemoteWriteError) Retryable() bool { return true }

// ConflictError rejects a mutation on a record that already has one in flight
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("workout %s already has a mutation in flight", e.ID)
}

// SubscriptionError reports a failed live feed. The last snapshot stays visible.
type SubscriptionError struct {
	OwnerID string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription for %s failed: %v", e.OwnerID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// EncodingError reports a record that could not be converted to or from its remote form
type EncodingError struct {
	ID    string
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	switch {
	case e.ID != "" && e.Field != "":
		return fmt.Sprintf("encoding workout %s field %s: %v", e.ID, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("encoding field %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("encoding workout %s: %v", e.ID, e.Err)
	}
}

func (e *EncodingError) Unwrap() error { return e.Err }
