// Package runner walks a resolved workflow graph against a simulated ledger and
// persists the step-by-step execution log.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/eventbus"
	"github.com/TilepMony-Project/engine/pkg/events"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/graph"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/nodes"
	"github.com/TilepMony-Project/engine/pkg/otelhelper"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Plan is a resolved graph with its decoded node properties.
type Plan struct {
	Order      []models.ExecutionNode
	Properties []nodes.Properties
	Leftover   []string
}

// NewPlan resolves the order of graph and decodes every node once. Duplicate
// node ids and invalid properties are configuration errors.
func NewPlan(workflow models.WorkflowGraph) (*Plan, error) {
	if err := graph.CheckIDs(workflow.Nodes); err != nil {
		return nil, err
	}

	resolved := graph.Resolve(workflow.Nodes, workflow.Edges)

	properties, err := nodes.DecodeAll(resolved.Order)
	if err != nil {
		return nil, err
	}

	return &Plan{Order: resolved.Order, Properties: properties, Leftover: resolved.Leftover}, nil
}

type Runner struct {
	executions   persistence.ExecutionRepository
	transactions persistence.TransactionRepository
	handlers     map[models.NodeType]Handler
	bus          eventbus.EventPublisher
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
	waitCap      time.Duration
	sleep        SleepFunc
	now          func() time.Time

	wg sync.WaitGroup
}

type Option func(*Runner)

// WithWaitCap bounds the real delay of wait nodes.
func WithWaitCap(waitCap time.Duration) Option {
	return func(r *Runner) {
		r.waitCap = waitCap
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(r *Runner) {
		r.sleep = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(r *Runner) {
		r.bus = bus
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithHandler replaces the handler of one node type.
func WithHandler(nodeType models.NodeType, handler Handler) Option {
	return func(r *Runner) {
		r.handlers[nodeType] = handler
	}
}

func New(store persistence.Persistence, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		executions:   store.ExecutionRepository(),
		transactions: store.TransactionRepository(),
		handlers:     DefaultHandlers(),
		bus:          eventbus.Noop{},
		tracer:       otelhelper.Tracer("tilepmony/runner"),
		logger:       logger.With("module", "workflow_runner"),
		waitCap:      config.DefaultWaitCap,
		sleep:        sleep,
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start validates the graph, stores a running execution and walks it in the
// background. The returned execution is a snapshot taken before the first node.
// Runs started here stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context, workflowID, userID string, workflow models.WorkflowGraph) (*models.Execution, error) {
	plan, err := NewPlan(workflow)
	if err != nil {
		return nil, err
	}

	execution, err := r.begin(ctx, workflowID, userID, plan)
	if err != nil {
		return nil, err
	}

	snapshot := execution.Clone()

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		if _, err := r.walk(ctx, execution, plan); err != nil {
			r.logger.ErrorContext(ctx, "Workflow run aborted", "execution_id", execution.ID, "error", err)
		}
	}()

	return snapshot, nil
}

// Run executes the graph synchronously and returns the terminal execution
// together with the final ledger.
func (r *Runner) Run(ctx context.Context, workflowID, userID string, workflow models.WorkflowGraph) (*models.Execution, *models.ExecutionContext, error) {
	plan, err := NewPlan(workflow)
	if err != nil {
		return nil, nil, err
	}

	execution, err := r.begin(ctx, workflowID, userID, plan)
	if err != nil {
		return nil, nil, err
	}

	ledger, err := r.walk(ctx, execution, plan)

	return execution, ledger, err
}

// Wait blocks until every run started with Start has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) begin(ctx context.Context, workflowID, userID string, plan *Plan) (*models.Execution, error) {
	now := r.now()
	execution := models.NewExecution(uuid.NewString(), workflowID, userID, now)

	for _, node := range plan.Order {
		execution.ExecutionLog = append(execution.ExecutionLog, models.ExecutionLogEntry{
			NodeID:    node.ID,
			NodeType:  node.Type,
			Status:    models.LogStatusPending,
			Timestamp: now,
		})
	}

	if err := execution.TransitionTo(models.ExecutionStatusRunning, now); err != nil {
		return nil, err
	}

	if err := r.executions.Save(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	if len(plan.Leftover) > 0 {
		r.logger.WarnContext(ctx, "Workflow graph is not acyclic, leftover nodes appended in declaration order",
			"execution_id", execution.ID, "leftover", plan.Leftover)
	}

	r.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  workflowID,
		UserID:      userID,
		NodeCount:   len(plan.Order),
	})

	return execution, nil
}

// walk runs every node of plan in order. A returned error means the
// execution could not be persisted; node failures end the run as failed
// without an error.
func (r *Runner) walk(ctx context.Context, execution *models.Execution, plan *Plan) (*models.ExecutionContext, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.run",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
	)
	defer span.End()

	logger := r.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)
	ledger := models.NewExecutionContext(execution.ID, execution.WorkflowID)
	started := r.now()
	previous := ""

	logger.InfoContext(ctx, "Starting workflow run", "nodes", len(plan.Order))

	for i, node := range plan.Order {
		if ctx.Err() != nil {
			return ledger, r.stop(ctx, execution, node.ID, ctx.Err())
		}

		result, err := r.step(ctx, execution, ledger, Step{Node: node, Properties: plan.Properties[i], PreviousAsset: previous})
		if err != nil {
			otelhelper.SetError(span, err)

			return ledger, err
		}

		switch {
		case errors.Is(result.Err, context.Canceled), errors.Is(result.Err, context.DeadlineExceeded):
			return ledger, r.stop(ctx, execution, node.ID, result.Err)
		case result.Outcome == OutcomeFailed:
			otelhelper.SetError(span, result.Err, attribute.String(otelhelper.NodeIDKey, node.ID))

			return ledger, r.fail(ctx, execution, node.ID, result.Err, started)
		}

		previous = result.Asset
	}

	return ledger, r.finish(ctx, execution, ledger, started)
}

// step runs one node and persists its log entry transitions.
func (r *Runner) step(ctx context.Context, execution *models.Execution, ledger *models.ExecutionContext, step Step) (Result, error) {
	node := step.Node

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	entry := execution.Entry(node.ID)
	entry.Status = models.LogStatusProcessing
	entry.Timestamp = r.now()
	execution.CurrentNodeID = node.ID

	if err := r.save(ctx, execution); err != nil {
		return Result{}, err
	}

	began := time.Now()

	handler, ok := r.handlers[node.Type]
	if !ok {
		return r.settle(ctx, execution, step, failed(failure.Configuration("run", "no handler for node type %q", node.Type)))
	}

	result := handler.Handle(ctx, ledger, step)
	r.metrics.ObserveNode(string(node.Type), time.Since(began).Seconds())

	if result.Outcome == OutcomeWaiting {
		if err := r.wait(ctx, execution, result.WaitMillis); err != nil {
			return Result{}, err
		}

		if ctx.Err() != nil {
			result = failed(ctx.Err())
		} else {
			result.Outcome = OutcomeSuccess
		}
	}

	if result.Outcome == OutcomeFailed {
		otelhelper.SetError(span, result.Err)
	}

	return r.settle(ctx, execution, step, result)
}

// wait suspends the run for min(millis, cap). The execution is running again
// when wait returns, even when the delay was interrupted.
func (r *Runner) wait(ctx context.Context, execution *models.Execution, millis int64) error {
	if err := r.transition(ctx, execution, models.ExecutionStatusRunningWaiting); err != nil {
		return err
	}

	delay := r.waitCap
	if millis < r.waitCap.Milliseconds() {
		delay = time.Duration(millis) * time.Millisecond
	}

	r.logger.DebugContext(ctx, "Waiting", "execution_id", execution.ID, "requested_ms", millis, "delay", delay)

	if err := r.sleep(ctx, delay); err != nil {
		r.logger.InfoContext(ctx, "Wait interrupted", "execution_id", execution.ID, "error", err)
	}

	return r.transition(ctx, execution, models.ExecutionStatusRunning)
}

// settle writes the final state of a node's log entry.
func (r *Runner) settle(ctx context.Context, execution *models.Execution, step Step, result Result) (Result, error) {
	entry := execution.Entry(step.Node.ID)
	entry.Timestamp = r.now()

	if result.Outcome == OutcomeFailed {
		entry.Status = models.LogStatusFailed
		entry.Error = failure.UserMessage(result.Err)

		if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded) {
			entry.Error = "run stopped: " + result.Err.Error()
		}
	} else {
		entry.Status = models.LogStatusComplete

		if result.Transaction != nil {
			hash, err := r.record(ctx, execution, step.Node.ID, result.Transaction)
			if err != nil {
				return Result{}, err
			}

			entry.TransactionHash = hash
		}
	}

	if err := r.save(ctx, execution); err != nil {
		return Result{}, err
	}

	if result.Outcome == OutcomeFailed {
		r.publish(ctx, execution.ID, events.NodeFailed{
			BaseEvent:   events.NewBaseEvent(events.NodeFailedEvent),
			ExecutionID: execution.ID,
			NodeID:      step.Node.ID,
			NodeType:    step.Node.Type,
			Error:       entry.Error,
		})
	} else {
		r.publish(ctx, execution.ID, events.NodeCompleted{
			BaseEvent:       events.NewBaseEvent(events.NodeCompletedEvent),
			ExecutionID:     execution.ID,
			NodeID:          step.Node.ID,
			NodeType:        step.Node.Type,
			TransactionHash: entry.TransactionHash,
		})
	}

	return result, nil
}

// record stores the synthetic transaction of a simulated on-chain step.
func (r *Runner) record(ctx context.Context, execution *models.Execution, nodeID string, transaction *models.Transaction) (string, error) {
	transaction.ID = uuid.NewString()
	transaction.ExecutionID = execution.ID
	transaction.NodeID = nodeID
	transaction.CreatedAt = r.now()
	transaction.Hash = crypto.Keccak256Hash([]byte(transaction.ExecutionID), []byte(nodeID), []byte(transaction.ID)).Hex()

	if err := r.transactions.Record(context.WithoutCancel(ctx), transaction); err != nil {
		return "", fmt.Errorf("failed to record transaction: %w", err)
	}

	return transaction.Hash, nil
}

func (r *Runner) transition(ctx context.Context, execution *models.Execution, status models.ExecutionStatus) error {
	if err := execution.TransitionTo(status, r.now()); err != nil {
		return err
	}

	return r.save(ctx, execution)
}

// save persists the execution. Writes outlive ctx so that a stopped run still
// records its final state.
func (r *Runner) save(ctx context.Context, execution *models.Execution) error {
	if err := r.executions.Save(context.WithoutCancel(ctx), execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *Runner) finish(ctx context.Context, execution *models.Execution, ledger *models.ExecutionContext, started time.Time) error {
	execution.CurrentNodeID = ""

	if err := r.transition(ctx, execution, models.ExecutionStatusFinished); err != nil {
		return err
	}

	fiat, tokens := ledger.Snapshot()

	r.logger.InfoContext(ctx, "Workflow run finished", "execution_id", execution.ID, "fiat", fiat, "tokens", tokens)
	r.metrics.ExecutionFinished(string(models.ExecutionStatusFinished))
	r.publish(ctx, execution.ID, events.ExecutionFinished{
		BaseEvent:     events.NewBaseEvent(events.ExecutionFinishedEvent),
		ExecutionID:   execution.ID,
		WorkflowID:    execution.WorkflowID,
		FiatBalances:  stringify(fiat),
		TokenBalances: stringify(tokens),
		Duration:      r.now().Sub(started),
	})

	return nil
}

func (r *Runner) fail(ctx context.Context, execution *models.Execution, nodeID string, cause error, started time.Time) error {
	if err := r.transition(ctx, execution, models.ExecutionStatusFailed); err != nil {
		return err
	}

	r.logger.WarnContext(ctx, "Workflow run failed", "execution_id", execution.ID, "node_id", nodeID, "error", cause)
	r.metrics.ExecutionFinished(string(models.ExecutionStatusFailed))
	r.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		NodeID:      nodeID,
		Error:       failure.UserMessage(cause),
		Duration:    r.now().Sub(started),
	})

	return nil
}

func (r *Runner) stop(ctx context.Context, execution *models.Execution, nodeID string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	if err := r.transition(ctx, execution, models.ExecutionStatusStopped); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Workflow run stopped", "execution_id", execution.ID, "node_id", nodeID, "reason", cause)
	r.metrics.ExecutionFinished(string(models.ExecutionStatusStopped))
	r.publish(ctx, execution.ID, events.ExecutionStopped{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStoppedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		NodeID:      nodeID,
	})

	return nil
}

func (r *Runner) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := r.bus.Publish(ctx, key, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func stringify[V fmt.Stringer](values map[string]V) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v.String()
	}

	return out
}
