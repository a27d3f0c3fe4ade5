// Package memory provides an in-process persistence implementation, used in
// tests and single-instance deployments.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
)

// Persistence implements persistence.Persistence with mutex-guarded maps.
type Persistence struct {
	mu sync.RWMutex

	executions   map[string]*models.Execution
	settlements  map[string]*models.PendingSettlement
	messageOrder []string
	checkpoints  map[uint64]*models.ChainCheckpoint
	transactions map[string][]*models.Transaction
}

func NewPersistence() *Persistence {
	return &Persistence{
		executions:   make(map[string]*models.Execution),
		settlements:  make(map[string]*models.PendingSettlement),
		checkpoints:  make(map[uint64]*models.ChainCheckpoint),
		transactions: make(map[string][]*models.Transaction),
	}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{p}
}

func (p *Persistence) SettlementRepository() persistence.SettlementRepository {
	return &settlementRepository{p}
}

func (p *Persistence) CheckpointRepository() persistence.CheckpointRepository {
	return &checkpointRepository{p}
}

func (p *Persistence) TransactionRepository() persistence.TransactionRepository {
	return &transactionRepository{p}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type executionRepository struct {
	*Persistence
}

func (r *executionRepository) Save(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executions[execution.ID] = execution.Clone()

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution.Clone(), nil
}

func (r *executionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var executions []*models.Execution

	for _, execution := range r.executions {
		if execution.WorkflowID == workflowID {
			executions = append(executions, execution.Clone())
		}
	}

	slices.SortFunc(executions, func(a, b *models.Execution) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	return executions, nil
}

type settlementRepository struct {
	*Persistence
}

func (r *settlementRepository) Insert(_ context.Context, settlement *models.PendingSettlement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.settlements[settlement.MessageID]; exists {
		return false, nil
	}

	r.settlements[settlement.MessageID] = settlement.Clone()
	r.messageOrder = append(r.messageOrder, settlement.MessageID)

	return true, nil
}

func (r *settlementRepository) GetByMessageID(_ context.Context, messageID string) (*models.PendingSettlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settlement, ok := r.settlements[messageID]
	if !ok {
		return nil, persistence.NewSettlementError("GetByMessageID", messageID, persistence.ErrSettlementNotFound)
	}

	return settlement.Clone(), nil
}

func (r *settlementRepository) Transition(_ context.Context, messageID string, from, to models.SettlementStatus, at time.Time) (*models.PendingSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	settlement, ok := r.settlements[messageID]
	if !ok {
		return nil, persistence.NewSettlementError("Transition", messageID, persistence.ErrSettlementNotFound)
	}

	if settlement.Status != from {
		return nil, &persistence.StatusConflictError{MessageID: messageID, Expected: from, Current: settlement.Status}
	}

	settlement.Status = to
	settlement.UpdatedAt = at

	return settlement.Clone(), nil
}

func (r *settlementRepository) Update(_ context.Context, settlement *models.PendingSettlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.settlements[settlement.MessageID]; !ok {
		return persistence.NewSettlementError("Update", settlement.MessageID, persistence.ErrSettlementNotFound)
	}

	r.settlements[settlement.MessageID] = settlement.Clone()

	return nil
}

func (r *settlementRepository) ListByStatus(_ context.Context, status models.SettlementStatus) ([]*models.PendingSettlement, error) {
	return r.list(func(s *models.PendingSettlement) bool { return s.Status == status }), nil
}

func (r *settlementRepository) List(_ context.Context) ([]*models.PendingSettlement, error) {
	return r.list(func(*models.PendingSettlement) bool { return true }), nil
}

func (r *settlementRepository) list(keep func(*models.PendingSettlement) bool) []*models.PendingSettlement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settlements := make([]*models.PendingSettlement, 0)

	for _, id := range r.messageOrder {
		if settlement := r.settlements[id]; keep(settlement) {
			settlements = append(settlements, settlement.Clone())
		}
	}

	return settlements
}

type checkpointRepository struct {
	*Persistence
}

func (r *checkpointRepository) Get(_ context.Context, chainID uint64) (*models.ChainCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checkpoint, ok := r.checkpoints[chainID]
	if !ok {
		return nil, persistence.ErrCheckpointNotFound
	}

	clone := *checkpoint

	return &clone, nil
}

func (r *checkpointRepository) Advance(_ context.Context, chainID, block uint64, at time.Time) (*models.ChainCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	checkpoint, ok := r.checkpoints[chainID]
	if !ok {
		checkpoint = &models.ChainCheckpoint{ChainID: chainID}
		r.checkpoints[chainID] = checkpoint
	}

	if !ok || block > checkpoint.LastCheckedBlock {
		checkpoint.LastCheckedBlock = block
		checkpoint.UpdatedAt = at
	}

	clone := *checkpoint

	return &clone, nil
}

type transactionRepository struct {
	*Persistence
}

func (r *transactionRepository) Record(_ context.Context, transaction *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *transaction
	r.transactions[transaction.ExecutionID] = append(r.transactions[transaction.ExecutionID], &clone)

	return nil
}

func (r *transactionRepository) ListByExecution(_ context.Context, executionID string) ([]*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transactions := make([]*models.Transaction, 0, len(r.transactions[executionID]))
	for _, transaction := range r.transactions[executionID] {
		clone := *transaction
		transactions = append(transactions, &clone)
	}

	return transactions, nil
}
