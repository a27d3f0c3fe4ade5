// Package nodes decodes the property bags of workflow nodes into typed values.
package nodes

import (
	"math"
	"strings"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/shopspring/decimal"
)

// FullBasisPoints is the inputAmountPercentage meaning "all of the previous output".
const FullBasisPoints = 10_000

// Properties is the typed configuration of one node.
type Properties interface {
	NodeType() models.NodeType
}

// Share selects how much of an upstream balance a step consumes. An explicit
// Amount wins over Percentage; with neither set the whole balance is used.
type Share struct {
	Amount     decimal.Decimal `json:"amount"`
	Percentage *float64        `json:"percentage,omitempty" validate:"omitempty,min=0,max=100"`
}

// BasisPoints converts Percentage to the 0-10000 scale used on chain.
func (s Share) BasisPoints() uint64 {
	if s.Percentage == nil {
		return FullBasisPoints
	}

	return uint64(math.Round(*s.Percentage * 100))
}

// Of returns the part of balance this share consumes.
func (s Share) Of(balance decimal.Decimal) decimal.Decimal {
	if s.Amount.IsPositive() {
		return s.Amount
	}

	return balance.Mul(decimal.NewFromInt(int64(s.BasisPoints()))).Div(decimal.NewFromInt(FullBasisPoints))
}

type Deposit struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required"`
}

type Mint struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required"`
	Token    string          `json:"token"    validate:"required"`
}

// Swap exchanges TokenIn for TokenOut through an adapter. An empty TokenIn
// means the output of the previous step.
type Swap struct {
	Share

	Adapter  string `json:"adapter"   validate:"required"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out" validate:"required"`
}

type Bridge struct {
	Share

	Token              string `json:"token"                validate:"required"`
	DestinationChainID uint64 `json:"destination_chain_id" validate:"required"`
	Recipient          string `json:"recipient"            validate:"omitempty,eth_addr"`
}

type Redeem struct {
	Share

	Token    string `json:"token"    validate:"required"`
	Currency string `json:"currency" validate:"required"`
}

// Transfer sends a token out of the workflow. An empty Token is resolved at
// execution time from the previous step.
type Transfer struct {
	Share

	Token     string `json:"token"`
	Recipient string `json:"recipient" validate:"omitempty,eth_addr"`
}

// Yield is shared by yield-deposit and yield-withdraw nodes.
type Yield struct {
	Share

	Adapter string `json:"adapter" validate:"required"`
	Token   string `json:"token"   validate:"required"`

	withdraw bool
}

type Wait struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit" validate:"required,oneof=milliseconds seconds minutes hours days"`
}

// Partition splits the flow structurally; its branches are edges, so it carries
// nothing the runner needs beyond the declared shares.
type Partition struct {
	Shares []float64 `json:"shares,omitempty" validate:"omitempty,dive,min=0,max=100"`
}

func (Deposit) NodeType() models.NodeType   { return models.NodeTypeDeposit }
func (Mint) NodeType() models.NodeType      { return models.NodeTypeMint }
func (Swap) NodeType() models.NodeType      { return models.NodeTypeSwap }
func (Bridge) NodeType() models.NodeType    { return models.NodeTypeBridge }
func (Redeem) NodeType() models.NodeType    { return models.NodeTypeRedeem }
func (Transfer) NodeType() models.NodeType  { return models.NodeTypeTransfer }
func (Wait) NodeType() models.NodeType      { return models.NodeTypeWait }
func (Partition) NodeType() models.NodeType { return models.NodeTypePartition }

func (y Yield) NodeType() models.NodeType {
	if y.withdraw {
		return models.NodeTypeYieldWithdraw
	}

	return models.NodeTypeYieldDeposit
}

// Withdraw reports whether the node takes funds out of the adapter.
func (y Yield) Withdraw() bool {
	return y.withdraw
}

// Position is the ledger key of the token held by a yield adapter.
func (y Yield) Position() string {
	return "yield:" + strings.ToLower(y.Adapter) + ":" + y.Token
}

var unitMillis = map[string]int64{
	"milliseconds": 1,
	"seconds":      1_000,
	"minutes":      60_000,
	"hours":        3_600_000,
	"days":         86_400_000,
}

// Millis converts the wait to milliseconds.
func (w Wait) Millis() int64 {
	return WaitDuration(w.Value, w.Unit)
}

// WaitDuration converts a (value, unit) pair to milliseconds. Unknown units
// yield zero; waits beyond the int64 range saturate.
func WaitDuration(value decimal.Decimal, unit string) int64 {
	factor, ok := unitMillis[normalizeUnit(unit)]
	if !ok {
		return 0
	}

	millis := value.Mul(decimal.NewFromInt(factor)).Round(0)
	if millis.GreaterThan(maxMillis) {
		return math.MaxInt64
	}

	return millis.IntPart()
}

var maxMillis = decimal.NewFromInt(math.MaxInt64)

func normalizeUnit(unit string) string {
	unit = strings.ToLower(strings.TrimSpace(unit))

	switch unit {
	case "ms", "millisecond":
		return "milliseconds"
	case "s", "sec", "second":
		return "seconds"
	case "m", "min", "minute":
		return "minutes"
	case "h", "hour":
		return "hours"
	case "d", "day":
		return "days"
	}

	return unit
}
