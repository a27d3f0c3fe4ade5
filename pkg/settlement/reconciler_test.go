package settlement_test

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/TilepMony-Project/engine/pkg/eventbus"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/mocks"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence/memory"
	"github.com/TilepMony-Project/engine/pkg/settlement"
	"github.com/TilepMony-Project/engine/pkg/testutil"
	"github.com/prometheus/client_golang/prometheus/testutil/promlint"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconciler_ReportsStuckSettlements(t *testing.T) {
	store := memory.NewPersistence()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	stuck := testutil.CreateTestSettlement(
		testutil.WithStatus(models.SettlementStatusExecuting),
		testutil.WithUpdatedAt(now.Add(-time.Hour)),
	)
	fresh := testutil.CreateTestSettlement(
		testutil.WithStatus(models.SettlementStatusExecuting),
		testutil.WithUpdatedAt(now.Add(-time.Minute)),
	)
	pending := testutil.CreateTestSettlement(testutil.WithUpdatedAt(now.Add(-24 * time.Hour)))

	for _, s := range []*models.PendingSettlement{stuck, fresh, pending} {
		_, err := store.SettlementRepository().Insert(context.Background(), s)
		require.NoError(t, err)
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	reconciler := settlement.NewReconciler(store, slog.Default(),
		settlement.WithReconcilerEventBus(bus),
		settlement.WithReconcilerMetrics(metrics.New()),
		settlement.WithStuckAfter(10*time.Minute),
		settlement.WithReconcilerClock(func() time.Time { return now }),
	)

	found, err := reconciler.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.MessageID, found[0].MessageID)

	bus.AssertNumberOfCalls(t, "Publish", 1)
	bus.AssertCalled(t, "Publish", mock.Anything, stuck.MessageID, mock.MatchedBy(func(e events.SettlementStuck) bool {
		return e.Age == time.Hour && e.ExecutingSince.Equal(now.Add(-time.Hour))
	}))

	// Reporting never changes the record.
	stored, err := store.SettlementRepository().GetByMessageID(context.Background(), stuck.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusExecuting, stored.Status)
}

func TestReconciler_StuckGauge(t *testing.T) {
	store := memory.NewPersistence()
	m := metrics.New()

	_, err := store.SettlementRepository().Insert(context.Background(), testutil.CreateTestSettlement(
		testutil.WithStatus(models.SettlementStatusExecuting),
		testutil.WithUpdatedAt(time.Now().UTC().Add(-time.Hour)),
	))
	require.NoError(t, err)

	reconciler := settlement.NewReconciler(store, slog.Default(), settlement.WithReconcilerMetrics(m))

	_, err = reconciler.Check(context.Background())
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var (
		gauge float64
		ours  []*dto.MetricFamily
	)

	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "tilepmony_") {
			ours = append(ours, family)
		}

		if family.GetName() == "tilepmony_settlement_stuck" {
			gauge = family.GetMetric()[0].GetGauge().GetValue()
		}
	}

	assert.InDelta(t, 1, gauge, 0)

	problems, err := promlint.NewWithMetricFamilies(ours).Lint()
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestReconciler_StartStop(t *testing.T) {
	reconciler := settlement.NewReconciler(memory.NewPersistence(), slog.Default(), settlement.WithReconcileInterval(time.Second))

	require.NoError(t, reconciler.Start(context.Background()))
	reconciler.Stop()
	reconciler.Stop()
}

func TestAutoExecute_RunsDetectedSettlements(t *testing.T) {
	f := newFixture(t)
	s := f.insert(t)
	f.happyPath(t, s.Amount)

	var handler eventbus.EventHandler

	subscriber := &mocks.MockEventBus{}
	subscriber.On("Handle", events.SettlementDetectedEvent, mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(1).(eventbus.EventHandler)
	}).Return(nil)

	require.NoError(t, settlement.AutoExecute(subscriber, f.executor, slog.Default()))
	require.NotNil(t, handler)

	detected := &events.SettlementDetected{
		BaseEvent: events.NewBaseEvent(events.SettlementDetectedEvent),
		MessageID: s.MessageID,
		ChainID:   s.ChainID,
		Amount:    s.Amount.String(),
	}

	require.NoError(t, handler(context.Background(), detected))
	assert.Equal(t, models.SettlementStatusCompleted, f.stored(t, s.MessageID).Status)

	// A redelivered event finds the settlement already completed and is still acknowledged.
	require.NoError(t, handler(context.Background(), detected))
	f.chain.AssertNumberOfCalls(t, "Send", 1)
}

func TestAutoExecute_FailedAttemptIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	s := f.insert(t)

	f.chain.On("TokenBalance", mock.Anything, usdx, controller).Return(big.NewInt(0), nil)

	var handler eventbus.EventHandler

	subscriber := &mocks.MockEventBus{}
	subscriber.On("Handle", events.SettlementDetectedEvent, mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(1).(eventbus.EventHandler)
	}).Return(nil)

	require.NoError(t, settlement.AutoExecute(subscriber, f.executor, slog.Default()))

	require.NoError(t, handler(context.Background(), &events.SettlementDetected{MessageID: s.MessageID}))
	assert.Equal(t, models.SettlementStatusFailed, f.stored(t, s.MessageID).Status)
	f.chain.AssertNotCalled(t, "Simulate", mock.Anything, mock.Anything, mock.Anything)
}
