// Package redis provides a Redis persistence implementation. Records are
// stored as JSON documents; ordering and compare-and-set run server side.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "tilepmony:"

	maxTransitionAttempts = 10
)

// insertScript stores a settlement only when its key is absent and appends
// the id to the creation-ordered index in the same step.
var insertScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	redis.call('RPUSH', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// advanceScript raises a checkpoint only when the new block is higher.
var advanceScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'block')
if not current or tonumber(ARGV[1]) > tonumber(current) then
	redis.call('HSET', KEYS[1], 'block', ARGV[1], 'updated_at', ARGV[2])
end
return redis.call('HMGET', KEYS[1], 'block', 'updated_at')
`)

// Persistence implements persistence.Persistence on Redis.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

// NewPersistence connects to the Redis server at redisURL (redis://host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewPersistenceWithClient(client, logger, defaultPrefix), nil
}

// NewPersistenceWithClient wraps an existing client. All keys start with prefix.
func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger, prefix string) *Persistence {
	return &Persistence{client: client, logger: logger, prefix: prefix}
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

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

func (p *Persistence) executionKey(id string) string {
	return p.prefix + "execution:" + id
}

func (p *Persistence) workflowExecutionsKey(workflowID string) string {
	return p.prefix + "workflow:" + workflowID + ":executions"
}

func (p *Persistence) settlementKey(messageID string) string {
	return p.prefix + "settlement:" + messageID
}

func (p *Persistence) settlementIndexKey() string {
	return p.prefix + "settlements"
}

func (p *Persistence) checkpointKey(chainID uint64) string {
	return p.prefix + "checkpoint:" + strconv.FormatUint(chainID, 10)
}

func (p *Persistence) transactionsKey(executionID string) string {
	return p.prefix + "execution:" + executionID + ":transactions"
}

type executionRepository struct {
	*Persistence
}

func (r *executionRepository) Save(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.executionKey(execution.ID), data, 0)
		pipe.ZAdd(ctx, r.workflowExecutionsKey(execution.WorkflowID), redis.Z{
			Score:  float64(execution.StartedAt.UnixMilli()),
			Member: execution.ID,
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	data, err := r.client.Get(ctx, r.executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &execution, nil
}

func (r *executionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	ids, err := r.client.ZRevRange(ctx, r.workflowExecutionsKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

type settlementRepository struct {
	*Persistence
}

func (r *settlementRepository) Insert(ctx context.Context, settlement *models.PendingSettlement) (bool, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return false, fmt.Errorf("failed to marshal settlement: %w", err)
	}

	created, err := insertScript.Run(ctx, r.client,
		[]string{r.settlementKey(settlement.MessageID), r.settlementIndexKey()},
		data, settlement.MessageID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to insert settlement: %w", err)
	}

	return created == 1, nil
}

func (r *settlementRepository) GetByMessageID(ctx context.Context, messageID string) (*models.PendingSettlement, error) {
	settlement, err := r.get(ctx, r.client, messageID)
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewSettlementError("GetByMessageID", messageID, persistence.ErrSettlementNotFound)
	}

	return settlement, err
}

func (r *settlementRepository) get(ctx context.Context, client redis.Cmdable, messageID string) (*models.PendingSettlement, error) {
	data, err := client.Get(ctx, r.settlementKey(messageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}

	var settlement models.PendingSettlement
	if err := json.Unmarshal(data, &settlement); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return &settlement, nil
}

// Transition uses WATCH/MULTI so that only one caller moves a settlement out
// of from; losers observe the new status.
func (r *settlementRepository) Transition(ctx context.Context, messageID string, from, to models.SettlementStatus, at time.Time) (*models.PendingSettlement, error) {
	key := r.settlementKey(messageID)

	for range maxTransitionAttempts {
		var updated *models.PendingSettlement

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			settlement, err := r.get(ctx, tx, messageID)
			if err != nil {
				return err
			}

			if settlement.Status != from {
				return &persistence.StatusConflictError{MessageID: messageID, Expected: from, Current: settlement.Status}
			}

			settlement.Status = to
			settlement.UpdatedAt = at

			data, err := json.Marshal(settlement)
			if err != nil {
				return fmt.Errorf("failed to marshal settlement: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)

				return nil
			})
			if err != nil {
				return err
			}

			updated = settlement

			return nil
		}, key)

		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return nil, persistence.NewSettlementError("Transition", messageID, persistence.ErrSettlementNotFound)
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to transition settlement %s: too much contention", messageID)
}

func (r *settlementRepository) Update(ctx context.Context, settlement *models.PendingSettlement) error {
	data, err := json.Marshal(settlement)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	updated, err := r.client.SetXX(ctx, r.settlementKey(settlement.MessageID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}

	if !updated {
		return persistence.NewSettlementError("Update", settlement.MessageID, persistence.ErrSettlementNotFound)
	}

	return nil
}

func (r *settlementRepository) ListByStatus(ctx context.Context, status models.SettlementStatus) ([]*models.PendingSettlement, error) {
	return r.list(ctx, func(s *models.PendingSettlement) bool { return s.Status == status })
}

func (r *settlementRepository) List(ctx context.Context) ([]*models.PendingSettlement, error) {
	return r.list(ctx, func(*models.PendingSettlement) bool { return true })
}

func (r *settlementRepository) list(ctx context.Context, keep func(*models.PendingSettlement) bool) ([]*models.PendingSettlement, error) {
	ids, err := r.client.LRange(ctx, r.settlementIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}

	settlements := make([]*models.PendingSettlement, 0, len(ids))

	for _, id := range ids {
		settlement, err := r.get(ctx, r.client, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				r.logger.WarnContext(ctx, "Settlement index references missing record", "message_id", id)

				continue
			}

			return nil, err
		}

		if keep(settlement) {
			settlements = append(settlements, settlement)
		}
	}

	return settlements, nil
}

type checkpointRepository struct {
	*Persistence
}

func (r *checkpointRepository) Get(ctx context.Context, chainID uint64) (*models.ChainCheckpoint, error) {
	values, err := r.client.HMGet(ctx, r.checkpointKey(chainID), "block", "updated_at").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if values[0] == nil {
		return nil, persistence.ErrCheckpointNotFound
	}

	return parseCheckpoint(chainID, values)
}

func (r *checkpointRepository) Advance(ctx context.Context, chainID, block uint64, at time.Time) (*models.ChainCheckpoint, error) {
	values, err := advanceScript.Run(ctx, r.client,
		[]string{r.checkpointKey(chainID)},
		strconv.FormatUint(block, 10), at.UTC().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	return parseCheckpoint(chainID, values)
}

func parseCheckpoint(chainID uint64, values []any) (*models.ChainCheckpoint, error) {
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected checkpoint shape: %v", values)
	}

	blockText, _ := values[0].(string)
	updatedText, _ := values[1].(string)

	block, err := strconv.ParseUint(blockText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint block %q: %w", blockText, err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, updatedText)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint time %q: %w", updatedText, err)
	}

	return &models.ChainCheckpoint{ChainID: chainID, LastCheckedBlock: block, UpdatedAt: updatedAt}, nil
}

type transactionRepository struct {
	*Persistence
}

func (r *transactionRepository) Record(ctx context.Context, transaction *models.Transaction) error {
	data, err := json.Marshal(transaction)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	if err := r.client.RPush(ctx, r.transactionsKey(transaction.ExecutionID), data).Err(); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	return nil
}

func (r *transactionRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.Transaction, error) {
	items, err := r.client.LRange(ctx, r.transactionsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	transactions := make([]*models.Transaction, 0, len(items))

	for _, item := range items {
		var transaction models.Transaction
		if err := json.Unmarshal([]byte(item), &transaction); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
		}

		transactions = append(transactions, &transaction)
	}

	return transactions, nil
}
