// Package models defines the core domain models for financial workflow graphs,
// their executions and cross-chain settlements.
package models

// Edge connects two nodes of a workflow graph: Source runs before Target.
type Edge struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// WorkflowGraph is the immutable input of a single run or compilation.
type WorkflowGraph struct {
	Nodes []ExecutionNode `json:"nodes" validate:"required,min=1,dive"`
	Edges []Edge          `json:"edges" validate:"dive"`
}

// Node returns the node with the given id.
func (g WorkflowGraph) Node(id string) (ExecutionNode, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return ExecutionNode{}, false
}
