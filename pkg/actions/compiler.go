package actions

import (
	"fmt"

	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/nodes"
	"github.com/ethereum/go-ethereum/common"
)

// Compiler turns typed node properties into actions using the chain table for
// symbol resolution.
type Compiler struct {
	chains *config.Chains
}

func NewCompiler(chains *config.Chains) *Compiler {
	return &Compiler{chains: chains}
}

// Compile builds the action of a single node on the given chain. Nodes with no
// on-chain counterpart (deposit, redeem, wait, partition) return nil. A bridge
// compiled on its own carries no downstream actions.
func (c *Compiler) Compile(chainID uint64, properties nodes.Properties) (*Action, error) {
	chain, err := c.chains.Chain(chainID)
	if err != nil {
		return nil, err
	}

	switch p := properties.(type) {
	case nodes.Mint:
		return compileMint(chain, p)
	case nodes.Swap:
		return compileSwap(chain, p)
	case nodes.Yield:
		return compileYield(chain, p)
	case nodes.Transfer:
		return compileTransfer(chain, p)
	case nodes.Bridge:
		return c.compileBridge(chain, p, nil)
	case nodes.Deposit, nodes.Redeem, nodes.Wait, nodes.Partition:
		return nil, nil
	default:
		return nil, failure.Configuration("compile", "unsupported node properties %T", properties)
	}
}

// CompilePlan compiles an ordered node list for the given chain. The nodes
// following a bridge are compiled against the destination chain and nested in
// the bridge payload, so a bridge always ends the plan of its own chain.
func (c *Compiler) CompilePlan(chainID uint64, order []models.ExecutionNode) ([]Action, error) {
	chain, err := c.chains.Chain(chainID)
	if err != nil {
		return nil, err
	}

	var plan []Action

	for i, node := range order {
		properties, err := nodes.Decode(node)
		if err != nil {
			return nil, err
		}

		bridge, ok := properties.(nodes.Bridge)
		if !ok {
			action, err := c.Compile(chainID, properties)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", node.ID, err)
			}

			if action != nil {
				plan = append(plan, *action)
			}

			continue
		}

		downstream, err := c.CompilePlan(bridge.DestinationChainID, order[i+1:])
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		action, err := c.compileBridge(chain, bridge, downstream)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		return append(plan, *action), nil
	}

	return plan, nil
}

func compileMint(chain *config.Chain, p nodes.Mint) (*Action, error) {
	token, decimals, err := chain.Token(p.Token)
	if err != nil {
		return nil, err
	}

	data, err := encodeMint(token, p.Amount.Shift(decimals).BigInt())
	if err != nil {
		return nil, failure.Configuration("compile", "mint payload: %v", err)
	}

	// The minted amount is absolute, so the action ignores upstream output.
	return &Action{Type: TypeMint, TargetContract: token, Data: data}, nil
}

func compileSwap(chain *config.Chain, p nodes.Swap) (*Action, error) {
	adapter, err := chain.Adapter(p.Adapter)
	if err != nil {
		return nil, err
	}

	var tokenIn common.Address
	if p.TokenIn != "" {
		if tokenIn, _, err = chain.Token(p.TokenIn); err != nil {
			return nil, err
		}
	}

	tokenOut, _, err := chain.Token(p.TokenOut)
	if err != nil {
		return nil, err
	}

	data, err := encodeSwap(adapter, tokenIn, tokenOut)
	if err != nil {
		return nil, failure.Configuration("compile", "swap payload: %v", err)
	}

	return &Action{Type: TypeSwap, TargetContract: adapter, Data: data, InputAmountPercentage: p.BasisPoints()}, nil
}

func compileYield(chain *config.Chain, p nodes.Yield) (*Action, error) {
	adapter, err := chain.Adapter(p.Adapter)
	if err != nil {
		return nil, err
	}

	token, _, err := chain.Token(p.Token)
	if err != nil {
		return nil, err
	}

	data, err := encodeYield(adapter, token)
	if err != nil {
		return nil, failure.Configuration("compile", "yield payload: %v", err)
	}

	actionType := TypeYield
	if p.Withdraw() {
		actionType = TypeYieldWithdraw
	}

	return &Action{Type: actionType, TargetContract: adapter, Data: data, InputAmountPercentage: p.BasisPoints()}, nil
}

func compileTransfer(chain *config.Chain, p nodes.Transfer) (*Action, error) {
	var token common.Address

	if p.Token != "" {
		var err error
		if token, _, err = chain.Token(p.Token); err != nil {
			return nil, err
		}
	}

	data, err := encodeTransfer(token)
	if err != nil {
		return nil, failure.Configuration("compile", "transfer payload: %v", err)
	}

	return &Action{Type: TypeTransfer, TargetContract: token, Data: data, InputAmountPercentage: p.BasisPoints()}, nil
}

func (c *Compiler) compileBridge(chain *config.Chain, p nodes.Bridge, downstream []Action) (*Action, error) {
	adapter, err := chain.BridgeAdapterAddress()
	if err != nil {
		return nil, err
	}

	token, _, err := chain.Token(p.Token)
	if err != nil {
		return nil, err
	}

	destination, err := c.chains.Chain(p.DestinationChainID)
	if err != nil {
		return nil, err
	}

	recipient := destination.ControllerAddress()
	if p.Recipient != "" {
		recipient = common.HexToAddress(p.Recipient)
	}

	var additionalData []byte
	if len(downstream) > 0 {
		if additionalData, err = EncodeWorkflowData(downstream); err != nil {
			return nil, err
		}
	}

	data, err := encodeBridge(token, destination.ID, common.BytesToHash(recipient.Bytes()), additionalData)
	if err != nil {
		return nil, failure.Configuration("compile", "bridge payload: %v", err)
	}

	return &Action{Type: TypeBridge, TargetContract: adapter, Data: data, InputAmountPercentage: p.BasisPoints()}, nil
}
