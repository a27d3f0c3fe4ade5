// Package persistence provides the storage abstraction for executions, settlements and chain checkpoints.
package persistence

import (
	"context"
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	SettlementRepository() SettlementRepository
	CheckpointRepository() CheckpointRepository
	TransactionRepository() TransactionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores workflow runs.
type ExecutionRepository interface {
	// Save inserts or replaces an execution.
	Save(ctx context.Context, execution *models.Execution) error

	// GetByID returns ErrExecutionNotFound when the execution is unknown.
	GetByID(ctx context.Context, id string) (*models.Execution, error)

	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
}

// SettlementRepository stores pending settlements. Records are never deleted.
type SettlementRepository interface {
	// Insert stores a settlement unless its message id is already known.
	// It reports whether the record was created.
	Insert(ctx context.Context, settlement *models.PendingSettlement) (bool, error)

	// GetByMessageID returns ErrSettlementNotFound when the id is unknown.
	GetByMessageID(ctx context.Context, messageID string) (*models.PendingSettlement, error)

	// Transition atomically moves a settlement from one status to another and
	// returns the updated record. A record in any other status yields a
	// *StatusConflictError.
	Transition(ctx context.Context, messageID string, from, to models.SettlementStatus, at time.Time) (*models.PendingSettlement, error)

	// Update replaces the mutable fields of an existing settlement.
	Update(ctx context.Context, settlement *models.PendingSettlement) error

	// ListByStatus returns settlements in creation order.
	ListByStatus(ctx context.Context, status models.SettlementStatus) ([]*models.PendingSettlement, error)

	// List returns every settlement in creation order.
	List(ctx context.Context) ([]*models.PendingSettlement, error)
}

// CheckpointRepository stores the per-chain scan high-water mark.
type CheckpointRepository interface {
	// Get returns ErrCheckpointNotFound before the first poll of a chain.
	Get(ctx context.Context, chainID uint64) (*models.ChainCheckpoint, error)

	// Advance raises the checkpoint to block. A lower block leaves it unchanged.
	Advance(ctx context.Context, chainID, block uint64, at time.Time) (*models.ChainCheckpoint, error)
}

// TransactionRepository records the transactions produced by workflow steps.
type TransactionRepository interface {
	Record(ctx context.Context, transaction *models.Transaction) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.Transaction, error)
}
