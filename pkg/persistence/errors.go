// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/TilepMony-Project/engine/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrSettlementNotFound indicates no settlement exists for the given message id.
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrCheckpointNotFound indicates a chain has never been polled.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrStatusConflict indicates a settlement was not in the expected status.
	ErrStatusConflict = errors.New("settlement status conflict")
)

// StatusConflictError carries the status a settlement was found in when a
// transition was rejected.
type StatusConflictError struct {
	MessageID string
	Expected  models.SettlementStatus
	Current   models.SettlementStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("settlement %s is %s, expected %s", e.MessageID, e.Current, e.Expected)
}

func (e *StatusConflictError) Is(target error) bool {
	return target == ErrStatusConflict
}

// SettlementError wraps settlement-related errors with additional context.
type SettlementError struct {
	Op        string // Operation being performed (e.g., "Get", "Transition")
	MessageID string // Message id of the settlement
	Err       error  // Underlying error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s operation failed for settlement %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for settlement errors.
func (e *SettlementError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSettlementError creates a new settlement error with context.
func NewSettlementError(op, messageID string, err error) *SettlementError {
	return &SettlementError{Op: op, MessageID: messageID, Err: err}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsSettlementNotFound checks if an error indicates a settlement was not found.
func IsSettlementNotFound(err error) bool {
	return errors.Is(err, ErrSettlementNotFound)
}

// IsCheckpointNotFound checks if an error indicates a checkpoint was not found.
func IsCheckpointNotFound(err error) bool {
	return errors.Is(err, ErrCheckpointNotFound)
}

// CurrentStatus extracts the status reported by a rejected transition.
func CurrentStatus(err error) (models.SettlementStatus, bool) {
	var conflict *StatusConflictError
	if errors.As(err, &conflict) {
		return conflict.Current, true
	}

	return "", false
}
