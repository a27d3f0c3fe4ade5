package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPendingSignature ExecutionStatus = "pending_signature" // Created, awaiting the user's signature
	ExecutionStatusRunning          ExecutionStatus = "running"
	ExecutionStatusRunningWaiting   ExecutionStatus = "running_waiting" // Suspended on a wait node
	ExecutionStatusFinished         ExecutionStatus = "finished"
	ExecutionStatusFailed           ExecutionStatus = "failed"
	ExecutionStatusStopped          ExecutionStatus = "stopped"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid execution status transition")

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPendingSignature: {ExecutionStatusRunning},
	ExecutionStatusRunning: {
		ExecutionStatusRunningWaiting,
		ExecutionStatusFinished,
		ExecutionStatusFailed,
		ExecutionStatusStopped,
	},
	ExecutionStatusRunningWaiting: {ExecutionStatusRunning},
}

// IsTerminal reports whether no further transition is possible from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusFinished || s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// CanTransitionTo reports whether s may move to next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return slices.Contains(executionTransitions[s], next)
}

// LogStatus is the state of a single node inside an execution log.
type LogStatus string

const (
	LogStatusPending    LogStatus = "pending"
	LogStatusProcessing LogStatus = "processing"
	LogStatusComplete   LogStatus = "complete"
	LogStatusFailed     LogStatus = "failed"
)

// ExecutionLogEntry records the progress of one node.
type ExecutionLogEntry struct {
	NodeID          string    `json:"node_id"`
	NodeType        NodeType  `json:"node_type"`
	Status          LogStatus `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Execution is a single invocation of a workflow graph.
type Execution struct {
	ID            string              `json:"id"`
	WorkflowID    string              `json:"workflow_id"`
	UserID        string              `json:"user_id"`
	Status        ExecutionStatus     `json:"status"`
	ExecutionLog  []ExecutionLogEntry `json:"execution_log"`
	CurrentNodeID string              `json:"current_node_id,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
}

// NewExecution creates an execution awaiting signature.
func NewExecution(id, workflowID, userID string, now time.Time) *Execution {
	return &Execution{
		ID:           id,
		WorkflowID:   workflowID,
		UserID:       userID,
		Status:       ExecutionStatusPendingSignature,
		ExecutionLog: []ExecutionLogEntry{},
		StartedAt:    now,
	}
}

// TransitionTo moves the execution to next, setting FinishedAt when next is
// terminal. Terminal executions never change again.
func (e *Execution) TransitionTo(next ExecutionStatus, now time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}

	e.Status = next
	if next.IsTerminal() {
		e.FinishedAt = &now
	}

	return nil
}

// Entry returns the log entry of a node, or nil.
func (e *Execution) Entry(nodeID string) *ExecutionLogEntry {
	for i := range e.ExecutionLog {
		if e.ExecutionLog[i].NodeID == nodeID {
			return &e.ExecutionLog[i]
		}
	}

	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.ExecutionLog = slices.Clone(e.ExecutionLog)

	if e.FinishedAt != nil {
		finished := *e.FinishedAt
		clone.FinishedAt = &finished
	}

	return &clone
}
