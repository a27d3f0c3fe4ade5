package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/TilepMony-Project/engine/pkg/models"
)

// TransactionRepository handles transaction record database operations.
type TransactionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *sql.DB, logger *slog.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

// Record stores a transaction.
func (r *TransactionRepository) Record(ctx context.Context, transaction *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, execution_id, node_id, type, asset, amount, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		transaction.ID,
		transaction.ExecutionID,
		transaction.NodeID,
		transaction.Type,
		transaction.Asset,
		transaction.Amount.String(),
		transaction.Hash,
		transaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	return nil
}

// ListByExecution retrieves the transactions of an execution in creation order.
func (r *TransactionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.Transaction, error) {
	query := `
		SELECT id, execution_id, node_id, type, asset, amount, hash, created_at
		FROM transactions
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	transactions := make([]*models.Transaction, 0)

	for rows.Next() {
		var transaction models.Transaction

		err := rows.Scan(
			&transaction.ID,
			&transaction.ExecutionID,
			&transaction.NodeID,
			&transaction.Type,
			&transaction.Asset,
			&transaction.Amount,
			&transaction.Hash,
			&transaction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		transactions = append(transactions, &transaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}
