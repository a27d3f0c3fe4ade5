package models

// NodeType is the fixed enumeration of operations a workflow node can perform.
type NodeType string

const (
	NodeTypeDeposit       NodeType = "deposit"        // Fiat deposit into the ledger
	NodeTypeMint          NodeType = "mint"           // Fiat to stablecoin
	NodeTypeSwap          NodeType = "swap"           // Token to token through an adapter
	NodeTypeBridge        NodeType = "bridge"         // Token to another chain
	NodeTypeRedeem        NodeType = "redeem"         // Stablecoin back to fiat
	NodeTypeTransfer      NodeType = "transfer"       // Token out of the workflow
	NodeTypeYieldDeposit  NodeType = "yield-deposit"  // Token into a yield adapter
	NodeTypeYieldWithdraw NodeType = "yield-withdraw" // Token out of a yield adapter
	NodeTypeWait          NodeType = "wait"           // Timed delay
	NodeTypePartition     NodeType = "partition"      // Structural percentage split
)

// NodeTypes lists every supported node type in declaration order.
var NodeTypes = []NodeType{
	NodeTypeDeposit,
	NodeTypeMint,
	NodeTypeSwap,
	NodeTypeBridge,
	NodeTypeRedeem,
	NodeTypeTransfer,
	NodeTypeYieldDeposit,
	NodeTypeYieldWithdraw,
	NodeTypeWait,
	NodeTypePartition,
}

// Valid reports whether t is one of the supported node types.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// ExecutionNode is a node instance in a workflow graph.
type ExecutionNode struct {
	ID         string         `json:"id"         validate:"required"`
	Type       NodeType       `json:"type"       validate:"required"`
	Properties map[string]any `json:"properties"`
}
