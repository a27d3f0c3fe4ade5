// Package graph turns a workflow graph into a deterministic linear execution order.
package graph

import (
	"slices"

	"github.com/TilepMony-Project/engine/pkg/models"
)

// Result is the linear order produced by Resolve.
type Result struct {
	// Order holds every node of the graph exactly once.
	Order []models.ExecutionNode

	// Leftover holds the ids of nodes that could not be ordered (cycles or
	// nodes only reachable from a cycle). They are appended to Order in
	// declaration order.
	Leftover []string
}

// Complete reports whether every node was placed by the topological sort.
func (r Result) Complete() bool {
	return len(r.Leftover) == 0
}

// Resolve orders nodes with Kahn's algorithm. Among nodes that are ready at
// the same time, the one declared first in nodes wins. Edges referencing
// unknown node ids are ignored.
//
// A graph that cannot be fully ordered is not rejected: the nodes left over by
// the sort are appended in declaration order so that a malformed graph still
// yields one deterministic plan.
func Resolve(nodes []models.ExecutionNode, edges []models.Edge) Result {
	index := make(map[string]int, len(nodes))
	for i, node := range nodes {
		if _, exists := index[node.ID]; !exists {
			index[node.ID] = i
		}
	}

	inDegree := make([]int, len(nodes))
	adjacency := make([][]int, len(nodes))

	for _, edge := range edges {
		source, okSource := index[edge.Source]
		target, okTarget := index[edge.Target]

		if !okSource || !okTarget {
			continue
		}

		adjacency[source] = append(adjacency[source], target)
		inDegree[target]++
	}

	ready := make([]int, 0, len(nodes))
	for i := range nodes {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	placed := make([]bool, len(nodes))
	order := make([]models.ExecutionNode, 0, len(nodes))

	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]

		placed[current] = true
		order = append(order, nodes[current])

		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	result := Result{Order: order}

	for i, node := range nodes {
		if !placed[i] {
			result.Order = append(result.Order, node)
			result.Leftover = append(result.Leftover, node.ID)
		}
	}

	return result
}

func insertSorted(ready []int, value int) []int {
	position, _ := slices.BinarySearch(ready, value)

	return slices.Insert(ready, position, value)
}
