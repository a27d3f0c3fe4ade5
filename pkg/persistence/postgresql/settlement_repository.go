package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
)

const settlementColumns = `
	message_id, recipient, amount, workflow_data, token_address, chain_id, block_number,
	transaction_hash, status, error, execution_tx_hash, created_at, updated_at, executed_at
`

// SettlementRepository handles pending settlement database operations.
type SettlementRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSettlementRepository creates a new settlement repository.
func NewSettlementRepository(db *sql.DB, logger *slog.Logger) *SettlementRepository {
	return &SettlementRepository{db: db, logger: logger}
}

// Insert stores a settlement unless its message id already exists.
func (r *SettlementRepository) Insert(ctx context.Context, settlement *models.PendingSettlement) (bool, error) {
	query := `
		INSERT INTO pending_settlements (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (message_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		settlement.MessageID,
		settlement.Recipient,
		amountString(settlement.Amount),
		[]byte(settlement.WorkflowData),
		settlement.TokenAddress,
		int64(settlement.ChainID),     // #nosec G115 -- chain ids fit in BIGINT
		int64(settlement.BlockNumber), // #nosec G115 -- block numbers fit in BIGINT
		settlement.TransactionHash,
		settlement.Status,
		nullString(settlement.Error),
		nullString(settlement.ExecutionTxHash),
		settlement.CreatedAt,
		settlement.UpdatedAt,
		settlement.ExecutedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert settlement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// GetByMessageID retrieves a settlement by message id.
func (r *SettlementRepository) GetByMessageID(ctx context.Context, messageID string) (*models.PendingSettlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM pending_settlements WHERE message_id = $1`

	settlement, err := scanSettlement(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSettlementError("GetByMessageID", messageID, persistence.ErrSettlementNotFound)
		}

		return nil, fmt.Errorf("failed to scan settlement: %w", err)
	}

	return settlement, nil
}

// Transition moves a settlement between statuses with a conditional update.
func (r *SettlementRepository) Transition(ctx context.Context, messageID string, from, to models.SettlementStatus, at time.Time) (*models.PendingSettlement, error) {
	query := `
		UPDATE pending_settlements SET status = $3, updated_at = $4
		WHERE message_id = $1 AND status = $2
		RETURNING ` + settlementColumns

	settlement, err := scanSettlement(r.db.QueryRowContext(ctx, query, messageID, from, to, at))
	if err == nil {
		return settlement, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition settlement: %w", err)
	}

	var current models.SettlementStatus

	err = r.db.QueryRowContext(ctx, `SELECT status FROM pending_settlements WHERE message_id = $1`, messageID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewSettlementError("Transition", messageID, persistence.ErrSettlementNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read settlement status: %w", err)
	}

	return nil, &persistence.StatusConflictError{MessageID: messageID, Expected: from, Current: current}
}

// Update replaces the mutable fields of a settlement.
func (r *SettlementRepository) Update(ctx context.Context, settlement *models.PendingSettlement) error {
	query := `
		UPDATE pending_settlements
		SET status = $2, error = $3, execution_tx_hash = $4, updated_at = $5, executed_at = $6
		WHERE message_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		settlement.MessageID,
		settlement.Status,
		nullString(settlement.Error),
		nullString(settlement.ExecutionTxHash),
		settlement.UpdatedAt,
		settlement.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewSettlementError("Update", settlement.MessageID, persistence.ErrSettlementNotFound)
	}

	return nil
}

// ListByStatus retrieves settlements with the given status in creation order.
func (r *SettlementRepository) ListByStatus(ctx context.Context, status models.SettlementStatus) ([]*models.PendingSettlement, error) {
	return r.query(ctx, `SELECT `+settlementColumns+` FROM pending_settlements WHERE status = $1 ORDER BY seq`, status)
}

// List retrieves every settlement in creation order.
func (r *SettlementRepository) List(ctx context.Context) ([]*models.PendingSettlement, error) {
	return r.query(ctx, `SELECT `+settlementColumns+` FROM pending_settlements ORDER BY seq`)
}

func (r *SettlementRepository) query(ctx context.Context, query string, args ...any) ([]*models.PendingSettlement, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	settlements := make([]*models.PendingSettlement, 0)

	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}

		settlements = append(settlements, settlement)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}

	return settlements, nil
}

func scanSettlement(row scanner) (*models.PendingSettlement, error) {
	var (
		settlement      models.PendingSettlement
		amount          string
		workflowData    []byte
		chainID         int64
		blockNumber     int64
		errorMessage    sql.NullString
		executionTxHash sql.NullString
		executedAt      sql.NullTime
	)

	err := row.Scan(
		&settlement.MessageID,
		&settlement.Recipient,
		&amount,
		&workflowData,
		&settlement.TokenAddress,
		&chainID,
		&blockNumber,
		&settlement.TransactionHash,
		&settlement.Status,
		&errorMessage,
		&executionTxHash,
		&settlement.CreatedAt,
		&settlement.UpdatedAt,
		&executedAt,
	)
	if err != nil {
		return nil, err
	}

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid settlement amount %q", amount)
	}

	settlement.Amount = value
	settlement.WorkflowData = workflowData
	settlement.ChainID = uint64(chainID)         // #nosec G115 -- stored from uint64
	settlement.BlockNumber = uint64(blockNumber) // #nosec G115 -- stored from uint64
	settlement.Error = errorMessage.String
	settlement.ExecutionTxHash = executionTxHash.String

	if executedAt.Valid {
		settlement.ExecutedAt = &executedAt.Time
	}

	return &settlement, nil
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}

	return amount.String()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
