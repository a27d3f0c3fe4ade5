// Package settlement executes the action lists carried by bridged deposits on
// their destination chain.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/TilepMony-Project/engine/pkg/actions"
	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/eventbus"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/otelhelper"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// gasMarginPercent is added on top of the estimated gas.
const gasMarginPercent = 20

// unconfirmedError marks a broadcast transaction whose receipt could not be
// read. Its outcome is unknown, so the settlement stays executing.
type unconfirmedError struct {
	err error
}

func (e *unconfirmedError) Error() string {
	return "receipt unavailable: " + e.err.Error()
}

func (e *unconfirmedError) Unwrap() error {
	return e.err
}

// Chain submits controller calls on one chain. *chain.Client implements it.
type Chain interface {
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Simulate(ctx context.Context, to common.Address, calldata []byte) error
	EstimateGas(ctx context.Context, to common.Address, calldata []byte) (uint64, error)
	Send(ctx context.Context, to common.Address, calldata []byte, gasLimit uint64) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Result is the outcome of one execution attempt.
type Result struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summary counts the attempts of a ProcessAll run.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Executor struct {
	settlements persistence.SettlementRepository
	chains      *config.Chains
	clients     map[uint64]Chain
	bus         eventbus.EventPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	maxGas      uint64
	now         func() time.Time
}

type Option func(*Executor)

func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.bus = bus
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithMaxGas sets the gas limit used when estimation fails.
func WithMaxGas(gas uint64) Option {
	return func(e *Executor) {
		e.maxGas = gas
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor builds an executor submitting through clients, keyed by chain id.
func NewExecutor(store persistence.Persistence, chains *config.Chains, clients map[uint64]Chain, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		settlements: store.SettlementRepository(),
		chains:      chains,
		clients:     clients,
		bus:         eventbus.Noop{},
		tracer:      otelhelper.Tracer("tilepmony/settlement"),
		logger:      logger.With("module", "settlement_executor"),
		maxGas:      config.DefaultMaxGas,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute claims a pending settlement and submits its actions. Only one caller
// can claim a given settlement; the others get the status it is already in.
func (e *Executor) Execute(ctx context.Context, messageID string) Result {
	logger := e.logger.With("message_id", messageID)

	settlement, err := e.settlements.Transition(ctx, messageID, models.SettlementStatusPending, models.SettlementStatusExecuting, e.now())
	if err != nil {
		e.metrics.SettlementOutcome("rejected")

		return e.rejected(ctx, logger, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "settlement.execute",
		attribute.String(otelhelper.MessageIDKey, messageID),
		attribute.Int64(otelhelper.ChainIDKey, int64(settlement.ChainID)), // #nosec G115 -- chain ids fit in int64
	)
	defer span.End()

	logger = logger.With("chain_id", settlement.ChainID)
	logger.InfoContext(ctx, "Executing settlement", "amount", settlement.Amount.String())

	txHash, err := e.submit(ctx, logger, settlement)
	if txHash != (common.Hash{}) {
		span.SetAttributes(attribute.String(otelhelper.TxHashKey, txHash.Hex()))
	}

	if err != nil {
		otelhelper.SetError(span, err)

		var unconfirmed *unconfirmedError
		if errors.As(err, &unconfirmed) {
			return e.unconfirmed(ctx, logger, settlement, txHash, unconfirmed.err)
		}

		return e.fail(ctx, logger, settlement, txHash, err)
	}

	return e.complete(ctx, logger, settlement, txHash)
}

func (e *Executor) rejected(ctx context.Context, logger *slog.Logger, err error) Result {
	if persistence.IsSettlementNotFound(err) {
		return Result{Error: "Settlement not found"}
	}

	if status, ok := persistence.CurrentStatus(err); ok {
		logger.InfoContext(ctx, "Settlement not pending", "status", status)

		return Result{Error: fmt.Sprintf("Workflow already %s", status)}
	}

	logger.ErrorContext(ctx, "Failed to claim settlement", "error", err)

	return Result{Error: err.Error()}
}

// submit runs every check of the settlement and broadcasts the controller
// call. The returned hash is set once a transaction was sent.
func (e *Executor) submit(ctx context.Context, logger *slog.Logger, settlement *models.PendingSettlement) (common.Hash, error) {
	client, ok := e.clients[settlement.ChainID]
	if !ok {
		return common.Hash{}, failure.Configuration("execute", "no client for chain %d", settlement.ChainID)
	}

	chain, err := e.chains.Chain(settlement.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	list, err := actions.DecodeWorkflowData(settlement.WorkflowData)
	if err != nil {
		return common.Hash{}, err
	}

	controller := chain.ControllerAddress()
	token := common.HexToAddress(settlement.TokenAddress)

	balance, err := client.TokenBalance(ctx, token, controller)
	if err != nil {
		return common.Hash{}, err
	}

	if balance.Cmp(settlement.Amount) < 0 {
		return common.Hash{}, failure.InsufficientBalance("check balance",
			"controller holds %s, settlement needs %s", balance.String(), settlement.Amount.String())
	}

	calldata, err := actions.ControllerCalldata(list, token, settlement.Amount, true)
	if err != nil {
		return common.Hash{}, err
	}

	if err := client.Simulate(ctx, controller, calldata); err != nil {
		return common.Hash{}, err
	}

	gas := e.gasLimit(ctx, logger, client, controller, calldata)

	txHash, err := client.Send(ctx, controller, calldata, gas)
	if err != nil {
		return common.Hash{}, err
	}

	e.broadcast(ctx, logger, settlement, txHash)

	receipt, err := client.WaitReceipt(ctx, txHash)
	if err != nil {
		return txHash, &unconfirmedError{err: err}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash, failure.TransactionReverted("execute", txHash.Hex())
	}

	return txHash, nil
}

func (e *Executor) gasLimit(ctx context.Context, logger *slog.Logger, client Chain, to common.Address, calldata []byte) uint64 {
	estimate, err := client.EstimateGas(ctx, to, calldata)
	if err != nil {
		logger.WarnContext(ctx, "Gas estimation failed, using ceiling", "max_gas", e.maxGas, "error", err)

		return e.maxGas
	}

	return estimate + estimate*gasMarginPercent/100
}

// broadcast stores the hash of a sent transaction before its receipt is
// awaited, so an interrupted attempt can still be traced on chain.
func (e *Executor) broadcast(ctx context.Context, logger *slog.Logger, settlement *models.PendingSettlement, txHash common.Hash) {
	settlement.ExecutionTxHash = txHash.Hex()
	settlement.UpdatedAt = e.now()

	if err := e.settlements.Update(context.WithoutCancel(ctx), settlement); err != nil {
		logger.ErrorContext(ctx, "Failed to store broadcast transaction", "tx_hash", txHash.Hex(), "error", err)
	}
}

// unconfirmed leaves the settlement executing with its transaction hash. The
// reconciler reports it once it is older than the stuck threshold.
func (e *Executor) unconfirmed(ctx context.Context, logger *slog.Logger, settlement *models.PendingSettlement, txHash common.Hash, cause error) Result {
	e.metrics.SettlementOutcome("unconfirmed")
	logger.WarnContext(ctx, "Settlement transaction sent but receipt unavailable",
		"tx_hash", txHash.Hex(), "error", cause)

	return Result{TxHash: txHash.Hex(), Error: "Transaction submitted, outcome unknown"}
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, settlement *models.PendingSettlement, txHash common.Hash) Result {
	now := e.now()

	settlement.Status = models.SettlementStatusCompleted
	settlement.ExecutionTxHash = txHash.Hex()
	settlement.Error = ""
	settlement.ExecutedAt = &now
	settlement.UpdatedAt = now

	if err := e.settlements.Update(context.WithoutCancel(ctx), settlement); err != nil {
		logger.ErrorContext(ctx, "Failed to store completed settlement", "tx_hash", txHash.Hex(), "error", err)
	}

	e.metrics.SettlementOutcome(string(models.SettlementStatusCompleted))
	logger.InfoContext(ctx, "Settlement completed", "tx_hash", txHash.Hex())

	e.publish(ctx, logger, settlement.MessageID, events.SettlementCompleted{
		BaseEvent:       events.NewBaseEvent(events.SettlementCompletedEvent),
		MessageID:       settlement.MessageID,
		ChainID:         settlement.ChainID,
		ExecutionTxHash: settlement.ExecutionTxHash,
	})

	return Result{Success: true, TxHash: settlement.ExecutionTxHash}
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, settlement *models.PendingSettlement, txHash common.Hash, cause error) Result {
	message := describe(cause)

	settlement.Status = models.SettlementStatusFailed
	settlement.Error = message
	settlement.UpdatedAt = e.now()

	if txHash != (common.Hash{}) {
		settlement.ExecutionTxHash = txHash.Hex()
	}

	if err := e.settlements.Update(context.WithoutCancel(ctx), settlement); err != nil {
		logger.ErrorContext(ctx, "Failed to store failed settlement", "error", err)
	}

	e.metrics.SettlementOutcome(string(models.SettlementStatusFailed))
	logger.ErrorContext(ctx, "Settlement failed", "error", cause)

	e.publish(ctx, logger, settlement.MessageID, events.SettlementFailed{
		BaseEvent: events.NewBaseEvent(events.SettlementFailedEvent),
		MessageID: settlement.MessageID,
		ChainID:   settlement.ChainID,
		Error:     message,
	})

	return Result{TxHash: settlement.ExecutionTxHash, Error: message}
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if err := e.bus.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish settlement event", "event_type", event.GetType(), "error", err)
	}
}

// describe renders the error stored on a failed settlement.
func describe(err error) string {
	if errors.Is(err, failure.ErrTransactionReverted) {
		return "transaction reverted"
	}

	return err.Error()
}

// ProcessAll executes every pending settlement, one at a time.
func (e *Executor) ProcessAll(ctx context.Context) (Summary, error) {
	pending, err := e.settlements.ListByStatus(ctx, models.SettlementStatusPending)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list pending settlements: %w", err)
	}

	var summary Summary

	for _, settlement := range pending {
		if ctx.Err() != nil {
			break
		}

		result := e.Execute(ctx, settlement.MessageID)

		summary.Processed++

		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	e.logger.InfoContext(ctx, "Processed pending settlements",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)

	return summary, nil
}
