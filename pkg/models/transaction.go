package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the ledger record produced by a successful simulated step.
type Transaction struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	Type        NodeType        `json:"type"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Hash        string          `json:"hash"`
	CreatedAt   time.Time       `json:"created_at"`
}
