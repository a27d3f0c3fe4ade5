// Package chain wraps the JSON-RPC access used by the bridge watcher and the
// settlement executor.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const tokenABI = `[
  {
    "type": "event",
    "name": "WorkflowDataReceived",
    "anonymous": false,
    "inputs": [
      {"name": "messageId", "type": "bytes32", "indexed": true},
      {"name": "recipient", "type": "bytes32", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "workflowData", "type": "bytes", "indexed": false}
    ]
  },
  {
    "type": "function",
    "name": "balanceOf",
    "stateMutability": "view",
    "inputs": [{"name": "account", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

const (
	EventWorkflowDataReceived = "WorkflowDataReceived"
	methodBalanceOf           = "balanceOf"
)

var parsedTokenABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		panic(fmt.Sprintf("invalid token abi: %v", err))
	}

	return parsed
}()

// WorkflowDataReceivedTopic is the topic0 of WorkflowDataReceived logs.
var WorkflowDataReceivedTopic = parsedTokenABI.Events[EventWorkflowDataReceived].ID

var errNoTopics = errors.New("log has no topics")

// unindexedArguments decodes controllers that emit messageId in the log data
// instead of as a topic. The event signature, and so topic0, is the same.
var unindexedArguments = func() abi.Arguments {
	inputs := parsedTokenABI.Events[EventWorkflowDataReceived].Inputs
	args := make(abi.Arguments, len(inputs))

	for i, input := range inputs {
		input.Indexed = false
		args[i] = input
	}

	return args
}()

// WorkflowDataReceived is a decoded bridge event.
type WorkflowDataReceived struct {
	MessageID    common.Hash
	Recipient    common.Hash
	Amount       *big.Int
	WorkflowData []byte
	Token        common.Address
	BlockNumber  uint64
	TxHash       common.Hash
}

// Field names follow the ABI input names.
type workflowDataReceivedUnindexed struct {
	MessageId    [32]byte //nolint:revive,stylecheck // must match abi.ToCamelCase("messageId")
	Recipient    [32]byte
	Amount       *big.Int
	WorkflowData []byte
}

type workflowDataReceivedData struct {
	Recipient    [32]byte
	Amount       *big.Int
	WorkflowData []byte
}

// DecodeWorkflowDataReceived decodes a WorkflowDataReceived log. messageId is
// read from topic1 when indexed, otherwise from the head of the log data.
func DecodeWorkflowDataReceived(log types.Log) (*WorkflowDataReceived, error) {
	if len(log.Topics) == 0 {
		return nil, errNoTopics
	}

	if log.Topics[0] != WorkflowDataReceivedTopic {
		return nil, fmt.Errorf("unexpected event topic %s", log.Topics[0].Hex())
	}

	event := &WorkflowDataReceived{
		Token:       log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}

	if len(log.Topics) == 1 {
		var data workflowDataReceivedUnindexed
		if err := unpack(unindexedArguments, &data, log.Data); err != nil {
			return nil, err
		}

		event.MessageID = common.Hash(data.MessageId)
		event.Recipient = common.Hash(data.Recipient)
		event.Amount = data.Amount
		event.WorkflowData = data.WorkflowData

		return event, nil
	}

	var data workflowDataReceivedData
	if err := unpack(parsedTokenABI.Events[EventWorkflowDataReceived].Inputs.NonIndexed(), &data, log.Data); err != nil {
		return nil, err
	}

	event.MessageID = log.Topics[1]
	event.Recipient = common.Hash(data.Recipient)
	event.Amount = data.Amount
	event.WorkflowData = data.WorkflowData

	return event, nil
}

func unpack(args abi.Arguments, into any, data []byte) error {
	values, err := args.Unpack(data)
	if err == nil {
		err = args.Copy(into, values)
	}

	if err != nil {
		return fmt.Errorf("failed to unpack %s: %w", EventWorkflowDataReceived, err)
	}

	return nil
}

// NewWorkflowDataReceivedLog builds the log a token contract emits for event.
func NewWorkflowDataReceivedLog(event WorkflowDataReceived) (types.Log, error) {
	data, err := parsedTokenABI.Events[EventWorkflowDataReceived].Inputs.NonIndexed().
		Pack([32]byte(event.Recipient), event.Amount, event.WorkflowData)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack %s: %w", EventWorkflowDataReceived, err)
	}

	return types.Log{
		Address:     event.Token,
		Topics:      []common.Hash{WorkflowDataReceivedTopic, event.MessageID},
		Data:        data,
		BlockNumber: event.BlockNumber,
		TxHash:      event.TxHash,
	}, nil
}
