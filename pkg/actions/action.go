// Package actions compiles workflow nodes into controller contract actions and
// encodes action lists for bridge payloads.
package actions

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Type is the on-chain action type tag.
type Type uint8

const (
	TypeSwap Type = iota
	TypeYield
	TypeBridge
	TypeTransfer
	TypeMint
	TypeYieldWithdraw
)

var typeNames = map[Type]string{
	TypeSwap:          "SWAP",
	TypeYield:         "YIELD",
	TypeBridge:        "BRIDGE",
	TypeTransfer:      "TRANSFER",
	TypeMint:          "MINT",
	TypeYieldWithdraw: "YIELD_WITHDRAW",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]

	return ok
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	for value, known := range typeNames {
		if known == name {
			*t = value

			return nil
		}
	}

	return fmt.Errorf("unknown action type %q", name)
}

// MaxPercentage is 100% on the basis-point scale.
const MaxPercentage = 10_000

// Action is one compiled contract call executed by the workflow controller.
type Action struct {
	Type                  Type           `json:"action_type"`
	TargetContract        common.Address `json:"target_contract"`
	Data                  hexutil.Bytes  `json:"data"`
	InputAmountPercentage uint64         `json:"input_amount_percentage"`
}

// actionTuple mirrors the ABI tuple (uint8,address,bytes,uint256). Field names
// must match the ABI component names for packing and unpacking.
type actionTuple struct {
	ActionType            uint8
	TargetContract        common.Address
	Data                  []byte
	InputAmountPercentage *big.Int
}

type workflowDataTuple struct {
	Actions []actionTuple
}

func toTuples(actions []Action) []actionTuple {
	tuples := make([]actionTuple, 0, len(actions))
	for _, action := range actions {
		data := action.Data
		if data == nil {
			data = []byte{}
		}

		tuples = append(tuples, actionTuple{
			ActionType:            uint8(action.Type),
			TargetContract:        action.TargetContract,
			Data:                  data,
			InputAmountPercentage: new(big.Int).SetUint64(action.InputAmountPercentage),
		})
	}

	return tuples
}

func fromTuples(tuples []actionTuple) ([]Action, error) {
	actions := make([]Action, 0, len(tuples))
	for i, tuple := range tuples {
		actionType := Type(tuple.ActionType)
		if !actionType.Valid() {
			return nil, fmt.Errorf("action %d: unknown action type %d", i, tuple.ActionType)
		}

		if tuple.InputAmountPercentage == nil || !tuple.InputAmountPercentage.IsUint64() ||
			tuple.InputAmountPercentage.Uint64() > MaxPercentage {
			return nil, fmt.Errorf("action %d: input amount percentage out of range", i)
		}

		var data hexutil.Bytes
		if len(tuple.Data) > 0 {
			data = common.CopyBytes(tuple.Data)
		}

		actions = append(actions, Action{
			Type:                  actionType,
			TargetContract:        tuple.TargetContract,
			Data:                  data,
			InputAmountPercentage: tuple.InputAmountPercentage.Uint64(),
		})
	}

	return actions, nil
}
