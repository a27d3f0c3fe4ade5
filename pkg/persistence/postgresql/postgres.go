// Package postgresql provides PostgreSQL persistence implementation for executions and settlements.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/TilepMony-Project/engine/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db              *sql.DB
	logger          *slog.Logger
	executionRepo   *ExecutionRepository
	settlementRepo  *SettlementRepository
	checkpointRepo  *CheckpointRepository
	transactionRepo *TransactionRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:              database,
		logger:          logger,
		executionRepo:   NewExecutionRepository(database, logger),
		settlementRepo:  NewSettlementRepository(database, logger),
		checkpointRepo:  NewCheckpointRepository(database),
		transactionRepo: NewTransactionRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) SettlementRepository() persistence.SettlementRepository {
	return p.settlementRepo
}

func (p *Persistence) CheckpointRepository() persistence.CheckpointRepository {
	return p.checkpointRepo
}

func (p *Persistence) TransactionRepository() persistence.TransactionRepository {
	return p.transactionRepo
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
