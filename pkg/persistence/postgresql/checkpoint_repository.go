package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
)

// CheckpointRepository handles chain checkpoint database operations.
type CheckpointRepository struct {
	db *sql.DB
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get retrieves the checkpoint of a chain.
func (r *CheckpointRepository) Get(ctx context.Context, chainID uint64) (*models.ChainCheckpoint, error) {
	query := `SELECT chain_id, last_checked_block, updated_at FROM chain_checkpoints WHERE chain_id = $1`

	checkpoint, err := scanCheckpoint(r.db.QueryRowContext(ctx, query, int64(chainID))) // #nosec G115 -- chain ids fit in BIGINT
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCheckpointNotFound
		}

		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	return checkpoint, nil
}

// Advance raises the checkpoint; GREATEST keeps it monotonic under concurrent writers.
func (r *CheckpointRepository) Advance(ctx context.Context, chainID, block uint64, at time.Time) (*models.ChainCheckpoint, error) {
	query := `
		INSERT INTO chain_checkpoints (chain_id, last_checked_block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_id) DO UPDATE SET
			last_checked_block = GREATEST(chain_checkpoints.last_checked_block, EXCLUDED.last_checked_block),
			updated_at = CASE
				WHEN EXCLUDED.last_checked_block > chain_checkpoints.last_checked_block THEN EXCLUDED.updated_at
				ELSE chain_checkpoints.updated_at
			END
		RETURNING chain_id, last_checked_block, updated_at
	`

	checkpoint, err := scanCheckpoint(r.db.QueryRowContext(ctx, query, int64(chainID), int64(block), at)) // #nosec G115 -- fit in BIGINT
	if err != nil {
		return nil, fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	return checkpoint, nil
}

func scanCheckpoint(row scanner) (*models.ChainCheckpoint, error) {
	var (
		checkpoint models.ChainCheckpoint
		chainID    int64
		block      int64
	)

	if err := row.Scan(&chainID, &block, &checkpoint.UpdatedAt); err != nil {
		return nil, err
	}

	checkpoint.ChainID = uint64(chainID)        // #nosec G115 -- stored from uint64
	checkpoint.LastCheckedBlock = uint64(block) // #nosec G115 -- stored from uint64

	return &checkpoint, nil
}
