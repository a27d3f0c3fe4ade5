// Package bridge watches destination chains for bridged deposits carrying a
// workflow and stores them as pending settlements.
package bridge

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/TilepMony-Project/engine/pkg/chain"
	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/eventbus"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/TilepMony-Project/engine/pkg/schedule"
	"github.com/ethereum/go-ethereum/common"
)

// ErrPollInProgress is returned when a poll is requested while another cycle runs.
var ErrPollInProgress = errors.New("a poll cycle is already in progress")

// EventSource reads WorkflowDataReceived events of one chain. *chain.Client implements it.
type EventSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	WorkflowEvents(ctx context.Context, token common.Address, from, to uint64) ([]chain.WorkflowDataReceived, error)
}

// Target is one watched chain.
type Target struct {
	ChainID uint64
	Source  EventSource
	Tokens  []common.Address
}

type Watcher struct {
	targets     []Target
	settlements persistence.SettlementRepository
	checkpoints persistence.CheckpointRepository
	bus         eventbus.EventPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	lookback    uint64
	interval    time.Duration
	now         func() time.Time

	polling  atomic.Bool
	schedule *schedule.Schedule
}

type Option func(*Watcher)

func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(w *Watcher) {
		w.bus = bus
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// WithInitialLookback sets how many blocks below head the first poll of a chain starts.
func WithInitialLookback(blocks uint64) Option {
	return func(w *Watcher) {
		w.lookback = blocks
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Watcher) {
		w.interval = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		w.now = now
	}
}

func NewWatcher(targets []Target, store persistence.Persistence, logger *slog.Logger, opts ...Option) *Watcher {
	sorted := slices.Clone(targets)
	slices.SortFunc(sorted, func(a, b Target) int { return cmp.Compare(a.ChainID, b.ChainID) })

	w := &Watcher{
		targets:     sorted,
		settlements: store.SettlementRepository(),
		checkpoints: store.CheckpointRepository(),
		bus:         eventbus.Noop{},
		logger:      logger.With("module", "bridge_watcher"),
		lookback:    config.DefaultInitialLookback,
		interval:    config.DefaultPollInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// ChainIDs returns the watched chains in polling order.
func (w *Watcher) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(w.targets))
	for _, target := range w.targets {
		ids = append(ids, target.ChainID)
	}

	return ids
}

// PollOnce runs one cycle over the given chains, or all chains when none is
// given, and returns the number of new settlements per chain. Chain and token
// failures are logged and never returned.
func (w *Watcher) PollOnce(ctx context.Context, chainIDs ...uint64) (map[uint64]int, error) {
	targets, err := w.selectTargets(chainIDs)
	if err != nil {
		return nil, err
	}

	if !w.polling.CompareAndSwap(false, true) {
		w.metrics.PollCycle("skipped")

		return nil, ErrPollInProgress
	}
	defer w.polling.Store(false)

	results := make(map[uint64]int, len(targets))

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}

		results[target.ChainID] = w.pollChain(ctx, target)
	}

	w.metrics.PollCycle("completed")

	return results, nil
}

func (w *Watcher) selectTargets(chainIDs []uint64) ([]Target, error) {
	if len(chainIDs) == 0 {
		return w.targets, nil
	}

	selected := make([]Target, 0, len(chainIDs))

	for _, target := range w.targets {
		if slices.Contains(chainIDs, target.ChainID) {
			selected = append(selected, target)
		}
	}

	if len(selected) != len(chainIDs) {
		return nil, failure.Configuration("poll", "chain %v is not watched", chainIDs)
	}

	return selected, nil
}

// pollChain scans [fromBlock, head] on every token of target and advances the
// checkpoint to head+1.
func (w *Watcher) pollChain(ctx context.Context, target Target) int {
	logger := w.logger.With("chain_id", target.ChainID)

	head, err := target.Source.HeadBlock(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read chain head", "error", err)
		w.metrics.PollError(target.ChainID)

		return 0
	}

	from, err := w.fromBlock(ctx, target.ChainID, head)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read checkpoint", "error", err)
		w.metrics.PollError(target.ChainID)

		return 0
	}

	created := 0

	if from <= head {
		for _, token := range target.Tokens {
			created += w.pollToken(ctx, logger, target, token, from, head)
		}
	}

	if _, err := w.checkpoints.Advance(ctx, target.ChainID, head+1, w.now()); err != nil {
		logger.ErrorContext(ctx, "Failed to advance checkpoint", "block", head+1, "error", err)
		w.metrics.PollError(target.ChainID)
	}

	w.metrics.SettlementsDetected(target.ChainID, created)
	logger.DebugContext(ctx, "Chain polled", "from_block", from, "to_block", head, "new_settlements", created)

	return created
}

func (w *Watcher) fromBlock(ctx context.Context, chainID, head uint64) (uint64, error) {
	checkpoint, err := w.checkpoints.Get(ctx, chainID)
	if err == nil {
		return checkpoint.LastCheckedBlock, nil
	}

	if !persistence.IsCheckpointNotFound(err) {
		return 0, err
	}

	if head < w.lookback {
		return 0, nil
	}

	return head - w.lookback, nil
}

func (w *Watcher) pollToken(ctx context.Context, logger *slog.Logger, target Target, token common.Address, from, to uint64) int {
	logger = logger.With("token", token.Hex())

	received, err := target.Source.WorkflowEvents(ctx, token, from, to)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to fetch events", "from_block", from, "to_block", to, "error", err)
		w.metrics.PollError(target.ChainID)

		return 0
	}

	created := 0

	for _, event := range received {
		settlement := newSettlement(target.ChainID, event, w.now())

		inserted, err := w.settlements.Insert(ctx, settlement)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to store settlement", "message_id", settlement.MessageID, "error", err)

			continue
		}

		if !inserted {
			continue
		}

		created++

		logger.InfoContext(ctx, "New pending settlement",
			"message_id", settlement.MessageID,
			"amount", settlement.Amount.String(),
			"block", settlement.BlockNumber,
		)

		if err := w.bus.Publish(ctx, settlement.MessageID, events.SettlementDetected{
			BaseEvent:   events.NewBaseEvent(events.SettlementDetectedEvent),
			MessageID:   settlement.MessageID,
			ChainID:     settlement.ChainID,
			Amount:      settlement.Amount.String(),
			BlockNumber: settlement.BlockNumber,
		}); err != nil {
			logger.WarnContext(ctx, "Failed to publish settlement event", "message_id", settlement.MessageID, "error", err)
		}
	}

	return created
}

func newSettlement(chainID uint64, event chain.WorkflowDataReceived, now time.Time) *models.PendingSettlement {
	return &models.PendingSettlement{
		MessageID:       event.MessageID.Hex(),
		Recipient:       event.Recipient.Hex(),
		Amount:          event.Amount,
		WorkflowData:    event.WorkflowData,
		TokenAddress:    event.Token.Hex(),
		ChainID:         chainID,
		BlockNumber:     event.BlockNumber,
		TransactionHash: event.TxHash.Hex(),
		Status:          models.SettlementStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Start polls every chain on the configured interval until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	s, err := schedule.New("bridge-poll", w.interval, func(ctx context.Context) {
		if _, err := w.PollOnce(ctx); err != nil {
			w.logger.WarnContext(ctx, "Scheduled poll skipped", "error", err)
		}
	}, w.logger)
	if err != nil {
		return err
	}

	if err := s.Start(ctx); err != nil {
		return err
	}

	w.schedule = s
	w.logger.InfoContext(ctx, "Bridge watcher started", "chains", w.ChainIDs(), "interval", w.interval)

	return nil
}

func (w *Watcher) Stop() {
	if w.schedule != nil {
		w.schedule.Stop()
		w.schedule = nil
	}
}
