package actions

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ControllerABI is the call surface of the workflow controller contract.
const ControllerABI = `[
  {
    "type": "function",
    "name": "executeWorkflow",
    "stateMutability": "payable",
    "inputs": [
      {"name": "actions", "type": "tuple[]", "components": [
        {"name": "actionType", "type": "uint8"},
        {"name": "targetContract", "type": "address"},
        {"name": "data", "type": "bytes"},
        {"name": "inputAmountPercentage", "type": "uint256"}
      ]},
      {"name": "initialToken", "type": "address"},
      {"name": "initialAmount", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "executeWorkflowWithReceivedTokens",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "actions", "type": "tuple[]", "components": [
        {"name": "actionType", "type": "uint8"},
        {"name": "targetContract", "type": "address"},
        {"name": "data", "type": "bytes"},
        {"name": "inputAmountPercentage", "type": "uint256"}
      ]},
      {"name": "initialToken", "type": "address"},
      {"name": "initialAmount", "type": "uint256"}
    ],
    "outputs": []
  }
]`

const (
	MethodExecuteWorkflow                   = "executeWorkflow"
	MethodExecuteWorkflowWithReceivedTokens = "executeWorkflowWithReceivedTokens"
)

var actionComponents = []abi.ArgumentMarshaling{
	{Name: "actionType", Type: "uint8"},
	{Name: "targetContract", Type: "address"},
	{Name: "data", Type: "bytes"},
	{Name: "inputAmountPercentage", Type: "uint256"},
}

var (
	addressType = mustType("address", nil)
	uint256Type = mustType("uint256", nil)
	bytesType   = mustType("bytes", nil)
	bytes32Type = mustType("bytes32", nil)

	workflowDataArgs = abi.Arguments{{
		Name: "workflowData",
		Type: mustType("tuple", []abi.ArgumentMarshaling{
			{Name: "actions", Type: "tuple[]", Components: actionComponents},
		}),
	}}

	mintArgs     = abi.Arguments{{Type: addressType}, {Type: uint256Type}}
	swapArgs     = abi.Arguments{{Type: addressType}, {Type: addressType}, {Type: addressType}, {Type: uint256Type}, {Type: uint256Type}, {Type: addressType}}
	yieldArgs    = abi.Arguments{{Type: addressType}, {Type: addressType}, {Type: uint256Type}, {Type: bytesType}}
	transferArgs = abi.Arguments{{Type: addressType}}
	bridgeArgs   = abi.Arguments{{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytesType}}

	controllerABI = mustParse(ControllerABI)
)

func mustType(name string, components []abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType(name, "", components)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %s: %v", name, err))
	}

	return t
}

func mustParse(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}

	return parsed
}

// Controller returns the parsed controller ABI.
func Controller() abi.ABI {
	return controllerABI
}

// MintPayload is the decoded data of a MINT action.
type MintPayload struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// SwapPayload is the decoded data of a SWAP action.
type SwapPayload struct {
	Adapter      common.Address `json:"adapter"`
	TokenIn      common.Address `json:"token_in"`
	TokenOut     common.Address `json:"token_out"`
	AmountIn     *big.Int       `json:"amount_in"`
	MinAmountOut *big.Int       `json:"min_amount_out"`
	Recipient    common.Address `json:"recipient"`
}

// YieldPayload is the decoded data of a YIELD or YIELD_WITHDRAW action.
type YieldPayload struct {
	Adapter     common.Address `json:"adapter"`
	Token       common.Address `json:"token"`
	Amount      *big.Int       `json:"amount"`
	AdapterData []byte         `json:"adapter_data"`
}

// TransferPayload is the decoded data of a TRANSFER action.
type TransferPayload struct {
	Token common.Address `json:"token"`
}

// BridgePayload is the decoded data of a BRIDGE action. AdditionalData holds
// the workflow data envelope executed on the destination chain.
type BridgePayload struct {
	Token              common.Address `json:"token"`
	DestinationChainID *big.Int       `json:"destination_chain_id"`
	Recipient          common.Hash    `json:"recipient"`
	AdditionalData     []byte         `json:"additional_data"`
}

func encodeMint(token common.Address, amount *big.Int) ([]byte, error) {
	return mintArgs.Pack(token, amount)
}

func encodeSwap(adapter, tokenIn, tokenOut common.Address) ([]byte, error) {
	return swapArgs.Pack(adapter, tokenIn, tokenOut, big.NewInt(0), big.NewInt(0), common.Address{})
}

func encodeYield(adapter, token common.Address) ([]byte, error) {
	return yieldArgs.Pack(adapter, token, big.NewInt(0), []byte{})
}

func encodeTransfer(token common.Address) ([]byte, error) {
	return transferArgs.Pack(token)
}

func encodeBridge(token common.Address, destinationChainID uint64, recipient common.Hash, additionalData []byte) ([]byte, error) {
	if additionalData == nil {
		additionalData = []byte{}
	}

	return bridgeArgs.Pack(token, new(big.Int).SetUint64(destinationChainID), [32]byte(recipient), additionalData)
}

// DecodePayload decodes the data of an action according to its type.
func DecodePayload(action Action) (any, error) {
	switch action.Type {
	case TypeMint:
		values, err := mintArgs.Unpack(action.Data)
		if err != nil {
			return nil, err
		}

		return &MintPayload{Token: values[0].(common.Address), Amount: values[1].(*big.Int)}, nil
	case TypeSwap:
		values, err := swapArgs.Unpack(action.Data)
		if err != nil {
			return nil, err
		}

		return &SwapPayload{
			Adapter:      values[0].(common.Address),
			TokenIn:      values[1].(common.Address),
			TokenOut:     values[2].(common.Address),
			AmountIn:     values[3].(*big.Int),
			MinAmountOut: values[4].(*big.Int),
			Recipient:    values[5].(common.Address),
		}, nil
	case TypeYield, TypeYieldWithdraw:
		values, err := yieldArgs.Unpack(action.Data)
		if err != nil {
			return nil, err
		}

		return &YieldPayload{
			Adapter:     values[0].(common.Address),
			Token:       values[1].(common.Address),
			Amount:      values[2].(*big.Int),
			AdapterData: values[3].([]byte),
		}, nil
	case TypeTransfer:
		values, err := transferArgs.Unpack(action.Data)
		if err != nil {
			return nil, err
		}

		return &TransferPayload{Token: values[0].(common.Address)}, nil
	case TypeBridge:
		return DecodeBridgePayload(action.Data)
	default:
		return nil, fmt.Errorf("unknown action type %d", action.Type)
	}
}

// DecodeBridgePayload decodes the data of a BRIDGE action.
func DecodeBridgePayload(data []byte) (*BridgePayload, error) {
	values, err := bridgeArgs.Unpack(data)
	if err != nil {
		return nil, err
	}

	return &BridgePayload{
		Token:              values[0].(common.Address),
		DestinationChainID: values[1].(*big.Int),
		Recipient:          common.Hash(values[2].([32]byte)),
		AdditionalData:     values[3].([]byte),
	}, nil
}

// ControllerCalldata packs a controller call for the given actions. Funds
// already held by the controller (bridge settlements) use
// executeWorkflowWithReceivedTokens.
func ControllerCalldata(actions []Action, initialToken common.Address, initialAmount *big.Int, withReceivedTokens bool) ([]byte, error) {
	method := MethodExecuteWorkflow
	if withReceivedTokens {
		method = MethodExecuteWorkflowWithReceivedTokens
	}

	if initialAmount == nil {
		initialAmount = big.NewInt(0)
	}

	calldata, err := controllerABI.Pack(method, toTuples(actions), initialToken, initialAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	return calldata, nil
}
