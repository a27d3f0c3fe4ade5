package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/eventbus"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/TilepMony-Project/engine/pkg/schedule"
)

// Reconciler reports settlements left in executing, typically by a crash
// between broadcast and finalization. It never executes them again.
type Reconciler struct {
	settlements persistence.SettlementRepository
	bus         eventbus.EventPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	stuckAfter  time.Duration
	interval    time.Duration
	now         func() time.Time

	schedule *schedule.Schedule
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerEventBus(bus eventbus.EventPublisher) ReconcilerOption {
	return func(r *Reconciler) {
		r.bus = bus
	}
}

func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithStuckAfter sets how long a settlement may stay executing before it is reported.
func WithStuckAfter(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.stuckAfter = d
	}
}

func WithReconcileInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.interval = d
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(store persistence.Persistence, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		settlements: store.SettlementRepository(),
		bus:         eventbus.Noop{},
		logger:      logger.With("module", "settlement_reconciler"),
		stuckAfter:  config.DefaultStuckAfter,
		interval:    config.DefaultReconcileInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Check returns the settlements executing for longer than the threshold,
// publishing one SettlementStuck event for each.
func (r *Reconciler) Check(ctx context.Context) ([]*models.PendingSettlement, error) {
	executing, err := r.settlements.ListByStatus(ctx, models.SettlementStatusExecuting)
	if err != nil {
		return nil, fmt.Errorf("failed to list executing settlements: %w", err)
	}

	now := r.now()

	var stuck []*models.PendingSettlement

	for _, settlement := range executing {
		age := now.Sub(settlement.UpdatedAt)
		if age < r.stuckAfter {
			continue
		}

		stuck = append(stuck, settlement)

		r.logger.WarnContext(ctx, "Settlement stuck in executing, manual recovery required",
			"message_id", settlement.MessageID,
			"chain_id", settlement.ChainID,
			"tx_hash", settlement.ExecutionTxHash,
			"executing_since", settlement.UpdatedAt,
			"age", age.Round(time.Second),
		)

		if err := r.bus.Publish(ctx, settlement.MessageID, events.SettlementStuck{
			BaseEvent:      events.NewBaseEvent(events.SettlementStuckEvent),
			MessageID:      settlement.MessageID,
			ChainID:        settlement.ChainID,
			ExecutingSince: settlement.UpdatedAt,
			Age:            age,
		}); err != nil {
			r.logger.WarnContext(ctx, "Failed to publish stuck settlement", "message_id", settlement.MessageID, "error", err)
		}
	}

	r.metrics.StuckSettlements(len(stuck))

	return stuck, nil
}

// Start runs Check on the configured interval until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	s, err := schedule.New("settlement-reconcile", r.interval, func(ctx context.Context) {
		if _, err := r.Check(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Reconciliation failed", "error", err)
		}
	}, r.logger)
	if err != nil {
		return err
	}

	if err := s.Start(ctx); err != nil {
		return err
	}

	r.schedule = s

	return nil
}

func (r *Reconciler) Stop() {
	if r.schedule != nil {
		r.schedule.Stop()
		r.schedule = nil
	}
}
