package engine

import (
	"errors"
	"fmt"
)

// EngineError represents an error detected during engine execution.
//
// Engine errors include:
//   - Unknown conflict: resolution arrived for a conflict id that is
//     not pending (never opened, or already resolved once)
//   - Invalid outcome: resolution arrived with an outcome outside the
//     resolution protocol; the conflict stays pending
//   - Unknown token: rollback arrived for an optimistic delta that was
//     never staged or was already confirmed
//
// EngineError includes structured fields for diagnostics.
type EngineError struct {
	// Code identifies the error category.
	Code EngineErrorCode

	// Message is a human-readable description.
	Message string

	// ConflictID identifies the conflict record (for conflict errors).
	ConflictID string

	// Token identifies the optimistic delta (for optimistic errors).
	Token string
}

// EngineErrorCode categorizes engine errors.
type EngineErrorCode string

const (
	// ErrCodeUnknownConflict indicates a resolution for a conflict that
	// is not pending. Conflicts resolve exactly once.
	ErrCodeUnknownConflict EngineErrorCode = "UNKNOWN_CONFLICT"

	// ErrCodeInvalidOutcome indicates a resolution with an outcome
	// that is not keep_local, take_remote, or merged. The conflict
	// record is left pending.
	ErrCodeInvalidOutcome EngineErrorCode = "INVALID_OUTCOME"

	// ErrCodeUnknownToken indicates a rollback for an optimistic delta
	// that is not pending.
	ErrCodeUnknownToken EngineErrorCode = "UNKNOWN_TOKEN"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.ConflictID != "" {
		return fmt.Sprintf("%s: %s (conflict=%s)", e.Code, e.Message, e.ConflictID)
	}
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (token=%s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownConflict returns true if the error is an unknown-conflict
// error. Uses errors.As to handle wrapped errors.
func IsUnknownConflict(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeUnknownConflict
	}
	return false
}

// IsInvalidOutcome returns true if the error is an invalid-outcome
// error. Uses errors.As to handle wrapped errors.
func IsInvalidOutcome(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeInvalidOutcome
	}
	return false
}

// IsUnknownToken returns true if the error is an unknown-token error.
// Uses errors.As to handle wrapped errors.
func IsUnknownToken(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeUnknownToken
	}
	return false
}

func newUnknownConflictError(id string) *EngineError {
	return &EngineError{
		Code:       ErrCodeUnknownConflict,
		Message:    "conflict is not pending (conflicts resolve exactly once)",
		ConflictID: id,
	}
}

func newInvalidOutcomeError(id string, outcome Outcome) *EngineError {
	return &EngineError{
		Code:       ErrCodeInvalidOutcome,
		Message:    fmt.Sprintf("%q is not a resolution outcome", outcome),
		ConflictID: id,
	}
}

func newUnknownTokenError(token string) *EngineError {
	return &EngineError{
		Code:    ErrCodeUnknownToken,
		Message: "optimistic delta is not pending",
		Token:   token,
	}
}
