// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"math/big"
	"testing"
	"time"

	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	SourceChainID      uint64 = 5003
	DestinationChainID uint64 = 4202

	SourceController      = "0x1000000000000000000000000000000000000001"
	SourceBridgeAdapter   = "0x1000000000000000000000000000000000000002"
	SourceUSDX            = "0x1000000000000000000000000000000000000010"
	SourceIDRX            = "0x1000000000000000000000000000000000000011"
	SourceSwapAdapter     = "0x1000000000000000000000000000000000000020"
	SourceYieldAdapter    = "0x1000000000000000000000000000000000000021"
	DestinationController = "0x2000000000000000000000000000000000000001"
	DestinationUSDX       = "0x2000000000000000000000000000000000000010"
	DestinationYield      = "0x2000000000000000000000000000000000000021"
)

// ChainsYAML is a two-chain table used across package tests.
const ChainsYAML = `
chains:
  - id: 5003
    name: mantle-sepolia
    rpc_url: http://localhost:8545
    controller: "0x1000000000000000000000000000000000000001"
    bridge_adapter: "0x1000000000000000000000000000000000000002"
    tokens:
      USDX: {address: "0x1000000000000000000000000000000000000010", decimals: 6}
      IDRX: {address: "0x1000000000000000000000000000000000000011", decimals: 2}
    adapters:
      fusionx: "0x1000000000000000000000000000000000000020"
      aave: "0x1000000000000000000000000000000000000021"
  - id: 4202
    name: lisk-sepolia
    rpc_url: http://localhost:8546
    controller: "0x2000000000000000000000000000000000000001"
    tokens:
      USDX: {address: "0x2000000000000000000000000000000000000010", decimals: 6}
    adapters:
      compound: "0x2000000000000000000000000000000000000021"
    watch_tokens: [USDX]
`

// Chains parses ChainsYAML.
func Chains(t testing.TB) *config.Chains {
	t.Helper()

	chains, err := config.ParseChains([]byte(ChainsYAML))
	require.NoError(t, err)

	return chains
}

// Node builds an ExecutionNode with the given properties.
func Node(id string, nodeType models.NodeType, properties map[string]any) models.ExecutionNode {
	return models.ExecutionNode{ID: id, Type: nodeType, Properties: properties}
}

// Chain links the given nodes with edges in slice order.
func Chain(nodes ...models.ExecutionNode) models.WorkflowGraph {
	graph := models.WorkflowGraph{Nodes: nodes}
	for i := 1; i < len(nodes); i++ {
		graph.Edges = append(graph.Edges, models.Edge{Source: nodes[i-1].ID, Target: nodes[i].ID})
	}

	return graph
}

// CreateTestSettlement creates a pending settlement with default values that can be overridden.
func CreateTestSettlement(overrides ...func(*models.PendingSettlement)) *models.PendingSettlement {
	now := time.Now().UTC()
	messageID := uuid.New()
	txID := uuid.New()
	settlement := &models.PendingSettlement{
		MessageID:       common.BytesToHash(messageID[:]).Hex(),
		Recipient:       common.HexToHash(DestinationController).Hex(),
		Amount:          big.NewInt(1_000_000),
		WorkflowData:    []byte{},
		TokenAddress:    DestinationUSDX,
		ChainID:         DestinationChainID,
		BlockNumber:     100,
		TransactionHash: common.BytesToHash(txID[:]).Hex(),
		Status:          models.SettlementStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, override := range overrides {
		override(settlement)
	}

	return settlement
}

// WithMessageID sets the settlement message id.
func WithMessageID(id string) func(*models.PendingSettlement) {
	return func(s *models.PendingSettlement) {
		s.MessageID = id
	}
}

// WithStatus sets the settlement status.
func WithStatus(status models.SettlementStatus) func(*models.PendingSettlement) {
	return func(s *models.PendingSettlement) {
		s.Status = status
	}
}

// WithWorkflowData sets the settlement workflow data.
func WithWorkflowData(data []byte) func(*models.PendingSettlement) {
	return func(s *models.PendingSettlement) {
		s.WorkflowData = data
	}
}

// WithUpdatedAt sets the settlement update time.
func WithUpdatedAt(at time.Time) func(*models.PendingSettlement) {
	return func(s *models.PendingSettlement) {
		s.UpdatedAt = at
	}
}
