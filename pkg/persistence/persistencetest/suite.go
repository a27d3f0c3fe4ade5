// Package persistencetest holds the behaviour every persistence implementation must share.
package persistencetest

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/TilepMony-Project/engine/pkg/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises an implementation. newPersistence must return an empty store.
func Run(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("execution save and get", func(t *testing.T) { testExecutions(t, newPersistence(t)) })
	t.Run("settlement insert is idempotent", func(t *testing.T) { testSettlementInsert(t, newPersistence(t)) })
	t.Run("settlement transition", func(t *testing.T) { testSettlementTransition(t, newPersistence(t)) })
	t.Run("settlement concurrent transition", func(t *testing.T) { testConcurrentTransition(t, newPersistence(t)) })
	t.Run("settlement update and list", func(t *testing.T) { testSettlementList(t, newPersistence(t)) })
	t.Run("checkpoint is monotonic", func(t *testing.T) { testCheckpoints(t, newPersistence(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newPersistence(t)) })
	t.Run("health check", func(t *testing.T) {
		require.NoError(t, newPersistence(t).HealthCheck(context.Background()))
	})
}

func testExecutions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	execution := models.NewExecution(uuid.NewString(), "wf-1", "user-1", now)
	execution.ExecutionLog = append(execution.ExecutionLog, models.ExecutionLogEntry{
		NodeID: "deposit", NodeType: models.NodeTypeDeposit, Status: models.LogStatusComplete, Timestamp: now,
	})
	require.NoError(t, execution.TransitionTo(models.ExecutionStatusRunning, now))
	require.NoError(t, repo.Save(ctx, execution))

	require.NoError(t, execution.TransitionTo(models.ExecutionStatusFinished, now))
	require.NoError(t, repo.Save(ctx, execution))

	stored, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFinished, stored.Status)
	require.Len(t, stored.ExecutionLog, 1)
	assert.Equal(t, "deposit", stored.ExecutionLog[0].NodeID)
	require.NotNil(t, stored.FinishedAt)
	assert.True(t, now.Equal(*stored.FinishedAt))

	listed, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func testSettlementInsert(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.SettlementRepository()

	settlement := testutil.CreateTestSettlement(testutil.WithWorkflowData([]byte{0x01, 0x02}))

	created, err := repo.Insert(ctx, settlement)
	require.NoError(t, err)
	assert.True(t, created)

	duplicate := settlement.Clone()
	duplicate.Amount = big.NewInt(1)

	created, err = repo.Insert(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := repo.GetByMessageID(ctx, settlement.MessageID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Amount, stored.Amount)
	assert.Equal(t, []byte{0x01, 0x02}, []byte(stored.WorkflowData))
	assert.Equal(t, models.SettlementStatusPending, stored.Status)

	_, err = repo.GetByMessageID(ctx, "0xmissing")
	assert.ErrorIs(t, err, persistence.ErrSettlementNotFound)
}

func testSettlementTransition(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.SettlementRepository()

	settlement := testutil.CreateTestSettlement()
	_, err := repo.Insert(ctx, settlement)
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)

	updated, err := repo.Transition(ctx, settlement.MessageID, models.SettlementStatusPending, models.SettlementStatusExecuting, at)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusExecuting, updated.Status)
	assert.True(t, at.Equal(updated.UpdatedAt))

	_, err = repo.Transition(ctx, settlement.MessageID, models.SettlementStatusPending, models.SettlementStatusExecuting, at)
	require.ErrorIs(t, err, persistence.ErrStatusConflict)

	current, ok := persistence.CurrentStatus(err)
	require.True(t, ok)
	assert.Equal(t, models.SettlementStatusExecuting, current)

	_, err = repo.Transition(ctx, "0xmissing", models.SettlementStatusPending, models.SettlementStatusExecuting, at)
	assert.ErrorIs(t, err, persistence.ErrSettlementNotFound)
}

func testConcurrentTransition(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.SettlementRepository()

	settlement := testutil.CreateTestSettlement()
	_, err := repo.Insert(ctx, settlement)
	require.NoError(t, err)

	const callers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.Transition(ctx, settlement.MessageID, models.SettlementStatusPending, models.SettlementStatusExecuting, time.Now())

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case persistence.IsSettlementNotFound(err):
			default:
				if _, ok := persistence.CurrentStatus(err); ok {
					conflicts++
				}
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicts)
}

func testSettlementList(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.SettlementRepository()

	base := time.Now().UTC().Truncate(time.Millisecond)
	first := testutil.CreateTestSettlement(func(s *models.PendingSettlement) { s.CreatedAt = base })
	second := testutil.CreateTestSettlement(func(s *models.PendingSettlement) { s.CreatedAt = base.Add(time.Second) })

	for _, settlement := range []*models.PendingSettlement{first, second} {
		_, err := repo.Insert(ctx, settlement)
		require.NoError(t, err)
	}

	executed := base.Add(time.Minute)
	second.Status = models.SettlementStatusCompleted
	second.ExecutionTxHash = "0xfeed"
	second.ExecutedAt = &executed
	second.UpdatedAt = executed
	require.NoError(t, repo.Update(ctx, second))

	pending, err := repo.ListByStatus(ctx, models.SettlementStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.MessageID, pending[0].MessageID)

	completed, err := repo.ListByStatus(ctx, models.SettlementStatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "0xfeed", completed[0].ExecutionTxHash)
	require.NotNil(t, completed[0].ExecutedAt)
	assert.True(t, executed.Equal(*completed[0].ExecutedAt))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.MessageID, all[0].MessageID)
	assert.Equal(t, second.MessageID, all[1].MessageID)

	missing := testutil.CreateTestSettlement()
	assert.ErrorIs(t, repo.Update(ctx, missing), persistence.ErrSettlementNotFound)
}

func testCheckpoints(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.CheckpointRepository()

	_, err := repo.Get(ctx, 5003)
	assert.ErrorIs(t, err, persistence.ErrCheckpointNotFound)

	now := time.Now().UTC()

	checkpoint, err := repo.Advance(ctx, 5003, 100, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), checkpoint.LastCheckedBlock)

	checkpoint, err = repo.Advance(ctx, 5003, 50, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), checkpoint.LastCheckedBlock)

	checkpoint, err = repo.Advance(ctx, 5003, 101, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), checkpoint.LastCheckedBlock)

	stored, err := repo.Get(ctx, 5003)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), stored.LastCheckedBlock)

	_, err = repo.Get(ctx, 4202)
	assert.ErrorIs(t, err, persistence.ErrCheckpointNotFound)
}

func testTransactions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.TransactionRepository()

	transaction := &models.Transaction{
		ID:          uuid.NewString(),
		ExecutionID: "exec-1",
		NodeID:      "mint",
		Type:        models.NodeTypeMint,
		Asset:       "USDX",
		Amount:      decimal.RequireFromString("1000.5"),
		Hash:        "0xabc",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.Record(ctx, transaction))

	listed, err := repo.ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "0xabc", listed[0].Hash)
	assert.True(t, transaction.Amount.Equal(listed[0].Amount))

	empty, err := repo.ListByExecution(ctx, "exec-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
