package graph

import (
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/models"
)

// CheckIDs rejects graphs whose nodes cannot be told apart by id. Execution
// logs are keyed by node id, so every id must be present and unique.
func CheckIDs(nodes []models.ExecutionNode) error {
	seen := make(map[string]struct{}, len(nodes))

	for i, node := range nodes {
		if node.ID == "" {
			return failure.Configuration("check graph", "node %d has no id", i)
		}

		if _, ok := seen[node.ID]; ok {
			return failure.Configuration("check graph", "duplicate node id %q", node.ID)
		}

		seen[node.ID] = struct{}{}
	}

	return nil
}
