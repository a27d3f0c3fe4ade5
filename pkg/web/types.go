// Package web provides HTTP request and response types for the engine API.
package web

import (
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/shopspring/decimal"
)

// PollRequest optionally limits a poll cycle to one chain.
type PollRequest struct {
	ChainID *uint64 `json:"chain_id,omitempty"`
}

// PollResponse holds the number of new settlements per chain.
type PollResponse struct {
	Results map[uint64]int `json:"results"`
}

type ExecuteSettlementRequest struct {
	MessageID string `json:"message_id" validate:"required"`
}

// CompileRequest represents a workflow graph to compile for a source chain.
type CompileRequest struct {
	ChainID       uint64                 `json:"chain_id"       validate:"required"`
	Nodes         []models.ExecutionNode `json:"nodes"          validate:"required,min=1,dive"`
	Edges         []models.Edge          `json:"edges"          validate:"dive"`
	InitialToken  string                 `json:"initial_token"`
	InitialAmount decimal.Decimal        `json:"initial_amount"`
}

// StartExecutionRequest represents the request body for starting a simulated run.
type StartExecutionRequest struct {
	WorkflowID string                 `json:"workflow_id" validate:"required"`
	UserID     string                 `json:"user_id"     validate:"required"`
	Nodes      []models.ExecutionNode `json:"nodes"       validate:"required,min=1,dive"`
	Edges      []models.Edge          `json:"edges"       validate:"dive"`
}

func (r StartExecutionRequest) Graph() models.WorkflowGraph {
	return models.WorkflowGraph{Nodes: r.Nodes, Edges: r.Edges}
}

// ExecutionResponse is an execution with the transactions its steps recorded.
type ExecutionResponse struct {
	*models.Execution

	Transactions []*models.Transaction `json:"transactions"`
}
