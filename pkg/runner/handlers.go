package runner

import (
	"context"
	"fmt"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/nodes"
	"github.com/shopspring/decimal"
)

// Outcome is what a handler reports back to the runner.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeWaiting
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeWaiting:
		return "waiting"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one node against the simulated ledger.
type Result struct {
	Outcome Outcome

	// WaitMillis is the requested delay of a waiting result.
	WaitMillis int64

	// Asset is the ledger key credited by the step. It becomes the input of a
	// following step that leaves its token empty.
	Asset string

	// Transaction is set when the step stands for an on-chain call. The runner
	// fills in ids and the hash before recording it.
	Transaction *models.Transaction

	Err error
}

func success(asset string) Result {
	return Result{Outcome: OutcomeSuccess, Asset: asset}
}

func transacted(nodeType models.NodeType, asset string, amount decimal.Decimal) Result {
	return Result{
		Outcome:     OutcomeSuccess,
		Asset:       asset,
		Transaction: &models.Transaction{Type: nodeType, Asset: asset, Amount: amount},
	}
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}

// Step is the input of a handler.
type Step struct {
	Node       models.ExecutionNode
	Properties nodes.Properties

	// PreviousAsset is the asset credited by the last successful step.
	PreviousAsset string
}

// Handler applies one node type to the ledger.
type Handler interface {
	Handle(ctx context.Context, ledger *models.ExecutionContext, step Step) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ledger *models.ExecutionContext, step Step) Result

func (f HandlerFunc) Handle(ctx context.Context, ledger *models.ExecutionContext, step Step) Result {
	return f(ctx, ledger, step)
}

// DefaultHandlers returns the simulated ledger semantics of every node type.
func DefaultHandlers() map[models.NodeType]Handler {
	return map[models.NodeType]Handler{
		models.NodeTypeDeposit:       HandlerFunc(handleDeposit),
		models.NodeTypeMint:          HandlerFunc(handleMint),
		models.NodeTypeSwap:          HandlerFunc(handleSwap),
		models.NodeTypeBridge:        HandlerFunc(handleBridge),
		models.NodeTypeRedeem:        HandlerFunc(handleRedeem),
		models.NodeTypeTransfer:      HandlerFunc(handleTransfer),
		models.NodeTypeYieldDeposit:  HandlerFunc(handleYield),
		models.NodeTypeYieldWithdraw: HandlerFunc(handleYield),
		models.NodeTypeWait:          HandlerFunc(handleWait),
		models.NodeTypePartition:     HandlerFunc(handlePartition),
	}
}

func handleDeposit(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Deposit)
	ledger.CreditFiat(props.Currency, props.Amount)

	return success(props.Currency)
}

func handleMint(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Mint)

	if !ledger.DebitFiat(props.Currency, props.Amount) {
		return failed(shortfall("mint", props.Currency, props.Amount, ledger.Fiat(props.Currency)))
	}

	ledger.CreditToken(props.Token, props.Amount)

	return transacted(models.NodeTypeMint, props.Token, props.Amount)
}

func handleSwap(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Swap)

	tokenIn, err := inputToken("swap", props.TokenIn, step.PreviousAsset)
	if err != nil {
		return failed(err)
	}

	amount, err := debitShare(ledger, "swap", tokenIn, props.Share)
	if err != nil {
		return failed(err)
	}

	// The simulated adapter prices every pair at par.
	ledger.CreditToken(props.TokenOut, amount)

	return transacted(models.NodeTypeSwap, props.TokenOut, amount)
}

func handleBridge(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Bridge)

	amount, err := debitShare(ledger, "bridge", props.Token, props.Share)
	if err != nil {
		return failed(err)
	}

	ledger.CreditToken(props.Token, amount)

	return transacted(models.NodeTypeBridge, props.Token, amount)
}

func handleRedeem(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Redeem)

	amount, err := debitShare(ledger, "redeem", props.Token, props.Share)
	if err != nil {
		return failed(err)
	}

	ledger.CreditFiat(props.Currency, amount)

	return success(props.Currency)
}

func handleTransfer(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Transfer)

	token, err := inputToken("transfer", props.Token, step.PreviousAsset)
	if err != nil {
		return failed(err)
	}

	amount, err := debitShare(ledger, "transfer", token, props.Share)
	if err != nil {
		return failed(err)
	}

	return transacted(models.NodeTypeTransfer, token, amount)
}

func handleYield(_ context.Context, ledger *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Yield)

	from, to := props.Token, props.Position()
	if props.Withdraw() {
		from, to = to, from
	}

	amount, err := debitShare(ledger, string(props.NodeType()), from, props.Share)
	if err != nil {
		return failed(err)
	}

	ledger.CreditToken(to, amount)

	return transacted(props.NodeType(), to, amount)
}

func handleWait(_ context.Context, _ *models.ExecutionContext, step Step) Result {
	props := step.Properties.(nodes.Wait)

	return Result{Outcome: OutcomeWaiting, WaitMillis: props.Millis(), Asset: step.PreviousAsset}
}

func handlePartition(_ context.Context, _ *models.ExecutionContext, step Step) Result {
	return success(step.PreviousAsset)
}

func inputToken(op, token, previous string) (string, error) {
	if token != "" {
		return token, nil
	}

	if previous == "" {
		return "", failure.Configuration(op, "no input token and no previous step output")
	}

	return previous, nil
}

func debitShare(ledger *models.ExecutionContext, op, token string, share nodes.Share) (decimal.Decimal, error) {
	balance := ledger.Token(token)
	amount := share.Of(balance)

	if !amount.IsPositive() || !ledger.DebitToken(token, amount) {
		return decimal.Zero, shortfall(op, token, amount, balance)
	}

	return amount, nil
}

func shortfall(op, asset string, need, have decimal.Decimal) error {
	return failure.InsufficientBalance(op, "need %s %s, have %s", need.String(), asset, have.String())
}
