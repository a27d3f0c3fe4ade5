// Package events defines the lifecycle notifications published by workflow
// runs and the settlement pipeline.
package events

import (
	"time"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every event; consumers dispatch on EventTypeMetadataKey.
const Topic = "tilepmony.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow run events.
	ExecutionStartedEvent  EventType = "execution.started"
	ExecutionFinishedEvent EventType = "execution.finished"
	ExecutionFailedEvent   EventType = "execution.failed"
	ExecutionStoppedEvent  EventType = "execution.stopped"
	NodeCompletedEvent     EventType = "node.completed"
	NodeFailedEvent        EventType = "node.failed"

	// Settlement pipeline events.
	SettlementDetectedEvent  EventType = "settlement.detected"
	SettlementCompletedEvent EventType = "settlement.completed"
	SettlementFailedEvent    EventType = "settlement.failed"
	SettlementStuckEvent     EventType = "settlement.stuck"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	UserID      string `json:"user_id"`
	NodeCount   int    `json:"node_count"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID   string            `json:"execution_id"`
	WorkflowID    string            `json:"workflow_id"`
	FiatBalances  map[string]string `json:"fiat_balances"`
	TokenBalances map[string]string `json:"token_balances"`
	Duration      time.Duration     `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	NodeID      string        `json:"node_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionStopped is published when a run is interrupted by shutdown.
type ExecutionStopped struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	NodeID      string `json:"node_id"`
}

func (e ExecutionStopped) GetType() EventType {
	return ExecutionStoppedEvent
}

type NodeCompleted struct {
	BaseEvent

	ExecutionID     string          `json:"execution_id"`
	NodeID          string          `json:"node_id"`
	NodeType        models.NodeType `json:"node_type"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	DurationMs      int64           `json:"duration_ms"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeType `json:"node_type"`
	Error       string          `json:"error"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

// SettlementDetected is published once per newly stored settlement.
type SettlementDetected struct {
	BaseEvent

	MessageID   string `json:"message_id"`
	ChainID     uint64 `json:"chain_id"`
	Amount      string `json:"amount"`
	BlockNumber uint64 `json:"block_number"`
}

func (e SettlementDetected) GetType() EventType {
	return SettlementDetectedEvent
}

type SettlementCompleted struct {
	BaseEvent

	MessageID       string `json:"message_id"`
	ChainID         uint64 `json:"chain_id"`
	ExecutionTxHash string `json:"execution_tx_hash"`
}

func (e SettlementCompleted) GetType() EventType {
	return SettlementCompletedEvent
}

type SettlementFailed struct {
	BaseEvent

	MessageID string `json:"message_id"`
	ChainID   uint64 `json:"chain_id"`
	Error     string `json:"error"`
}

func (e SettlementFailed) GetType() EventType {
	return SettlementFailedEvent
}

// SettlementStuck reports a settlement left in executing past the threshold.
type SettlementStuck struct {
	BaseEvent

	MessageID      string        `json:"message_id"`
	ChainID        uint64        `json:"chain_id"`
	ExecutingSince time.Time     `json:"executing_since"`
	Age            time.Duration `json:"age"`
}

func (e SettlementStuck) GetType() EventType {
	return SettlementStuckEvent
}

// New returns an empty event of the given type for decoding, or nil when the
// type is unknown.
func New(eventType EventType) any {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}
	case ExecutionFailedEvent:
		return &ExecutionFailed{}
	case ExecutionStoppedEvent:
		return &ExecutionStopped{}
	case NodeCompletedEvent:
		return &NodeCompleted{}
	case NodeFailedEvent:
		return &NodeFailed{}
	case SettlementDetectedEvent:
		return &SettlementDetected{}
	case SettlementCompletedEvent:
		return &SettlementCompleted{}
	case SettlementFailedEvent:
		return &SettlementFailed{}
	case SettlementStuckEvent:
		return &SettlementStuck{}
	default:
		return nil
	}
}
