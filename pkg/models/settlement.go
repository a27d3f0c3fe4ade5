package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SettlementStatus represents the lifecycle state of a pending settlement.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusExecuting SettlementStatus = "executing"
	SettlementStatusCompleted SettlementStatus = "completed"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// Valid reports whether s is a known settlement status.
func (s SettlementStatus) Valid() bool {
	switch s {
	case SettlementStatusPending, SettlementStatusExecuting, SettlementStatusCompleted, SettlementStatusFailed:
		return true
	default:
		return false
	}
}

// PendingSettlement is a bridged deposit whose embedded action list still has
// to be executed on the destination chain. Records are never deleted.
type PendingSettlement struct {
	MessageID       string           `json:"message_id"`
	Recipient       string           `json:"recipient"`
	Amount          *big.Int         `json:"amount"`
	WorkflowData    hexutil.Bytes    `json:"workflow_data"`
	TokenAddress    string           `json:"token_address"`
	ChainID         uint64           `json:"chain_id"`
	BlockNumber     uint64           `json:"block_number"`
	TransactionHash string           `json:"transaction_hash"`
	Status          SettlementStatus `json:"status"`
	Error           string           `json:"error,omitempty"`
	ExecutionTxHash string           `json:"execution_tx_hash,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ExecutedAt      *time.Time       `json:"executed_at,omitempty"`
}

// Clone returns a deep copy of the settlement.
func (s *PendingSettlement) Clone() *PendingSettlement {
	clone := *s

	if s.Amount != nil {
		clone.Amount = new(big.Int).Set(s.Amount)
	}

	clone.WorkflowData = append(hexutil.Bytes(nil), s.WorkflowData...)

	if s.ExecutedAt != nil {
		executed := *s.ExecutedAt
		clone.ExecutedAt = &executed
	}

	return &clone
}

// ChainCheckpoint is the high-water mark of a chain's event scan.
type ChainCheckpoint struct {
	ChainID          uint64    `json:"chain_id"`
	LastCheckedBlock uint64    `json:"last_checked_block"`
	UpdatedAt        time.Time `json:"updated_at"`
}
