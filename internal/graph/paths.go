package graph

import (
	"fmt"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Path is one simple path between two states.
type Path struct {
	Nodes       []string `json:"nodes"`
	Transitions []string `json:"transitions"`
	TotalWeight float64  `json:"total_weight"`
	Probability float64  `json:"probability"`
}

// FindPaths returns every simple path from -> to using at most maxDepth
// transitions. Paths never repeat a node.
func (g *Graph) FindPaths(from, to string, maxDepth int) ([]Path, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.index[from]; !ok {
		return nil, &domain.ValidationError{Errors: []string{fmt.Sprintf("node not found: %s", from)}}
	}
	if _, ok := g.index[to]; !ok {
		return nil, &domain.ValidationError{Errors: []string{fmt.Sprintf("node not found: %s", to)}}
	}

	out := make(map[string][]domain.StateTransition, len(g.nodes))
	for _, t := range g.transitions {
		out[t.FromState] = append(out[t.FromState], t)
	}

	paths := []Path{}
	visited := map[string]bool{from: true}
	nodes := []string{from}
	var edges []domain.StateTransition

	var walk func(current string)
	walk = func(current string) {
		if current == to {
			paths = append(paths, buildPath(nodes, edges))
			return
		}
		if len(edges) >= maxDepth {
			return
		}
		for _, t := range out[current] {
			if visited[t.ToState] {
				continue
			}
			visited[t.ToState] = true
			nodes = append(nodes, t.ToState)
			edges = append(edges, t)

			walk(t.ToState)

			nodes = nodes[:len(nodes)-1]
			edges = edges[:len(edges)-1]
			visited[t.ToState] = false
		}
	}
	walk(from)

	return paths, nil
}

func buildPath(nodes []string, edges []domain.StateTransition) Path {
	p := Path{
		Nodes:       append([]string(nil), nodes...),
		Transitions: make([]string, 0, len(edges)),
		Probability: 1,
	}
	for _, e := range edges {
		p.Transitions = append(p.Transitions, e.ID)
		p.TotalWeight += e.Metadata.EffectiveWeight()
		p.Probability *= e.Metadata.EffectiveProbability()
	}
	return p
}
