package model

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError marks a malformed incoming event. Such events are
// dropped individually and never abort a batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// DecodeError marks unparsable existing remote state. Callers treat it as
// an empty snapshot so a sync can still proceed as a full insert.
type DecodeError struct {
	Line   int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode: line %d: %s", e.Line, e.Reason)
	}
	return "decode: " + e.Reason
}

// AuthError marks an invalid or expired credential. Adapters retry exactly
// once after a forced refresh; a repeated failure is fatal for the run.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConflictError marks a write the remote rejected as a duplicate. When the
// reason indicates the resource already exists, adapters reclassify the
// operation as a skip.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s: %s", e.Op, e.Reason)
}

// Exists reports whether the conflict reason indicates pre-existence.
func (e *ConflictError) Exists() bool {
	reason := strings.ToLower(e.Reason)
	return strings.Contains(reason, "exist") || strings.Contains(reason, "duplicate")
}

// NetworkError marks a transport failure. Fatal for the specific operation
// only; sibling operations in a batch proceed.
type NetworkError struct {
	Op  string
	Err error

	// Code is the HTTP status when the failure was an unexpected
	// response rather than a transport error. Zero otherwise.
	Code int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CapacityError marks a bounded computation that hit its cap. The result
// is truncated, not failed.
type CapacityError struct {
	What  string
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s truncated at limit %d", e.What, e.Limit)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
