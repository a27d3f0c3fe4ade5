package actions

import (
	"math/big"

	"github.com/TilepMony-Project/engine/pkg/graph"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Compilation is everything a wallet needs to start a workflow on its source chain.
type Compilation struct {
	ChainID       uint64         `json:"chain_id"`
	Controller    common.Address `json:"controller"`
	Actions       []Action       `json:"actions"`
	WorkflowData  hexutil.Bytes  `json:"workflow_data"`
	Calldata      hexutil.Bytes  `json:"calldata"`
	InitialToken  common.Address `json:"initial_token"`
	InitialAmount *big.Int       `json:"initial_amount"`
	Leftover      []string       `json:"leftover,omitempty"`
}

// CompileGraph resolves the graph order and compiles it into an executeWorkflow
// call. initialToken is a symbol of the chain and may be empty when the first
// action mints; initialAmount is in whole token units.
func (c *Compiler) CompileGraph(chainID uint64, workflow models.WorkflowGraph, initialToken string, initialAmount decimal.Decimal) (*Compilation, error) {
	chain, err := c.chains.Chain(chainID)
	if err != nil {
		return nil, err
	}

	if err := graph.CheckIDs(workflow.Nodes); err != nil {
		return nil, err
	}

	resolved := graph.Resolve(workflow.Nodes, workflow.Edges)

	list, err := c.CompilePlan(chainID, resolved.Order)
	if err != nil {
		return nil, err
	}

	var (
		token  common.Address
		amount = big.NewInt(0)
	)

	if initialToken != "" {
		address, decimals, err := chain.Token(initialToken)
		if err != nil {
			return nil, err
		}

		token = address
		amount = initialAmount.Shift(decimals).BigInt()
	}

	envelope, err := EncodeWorkflowData(list)
	if err != nil {
		return nil, err
	}

	calldata, err := ControllerCalldata(list, token, amount, false)
	if err != nil {
		return nil, err
	}

	return &Compilation{
		ChainID:       chainID,
		Controller:    chain.ControllerAddress(),
		Actions:       list,
		WorkflowData:  envelope,
		Calldata:      calldata,
		InitialToken:  token,
		InitialAmount: amount,
		Leftover:      resolved.Leftover,
	}, nil
}
