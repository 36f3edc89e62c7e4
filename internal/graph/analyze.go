package graph

import (
	"fmt"
	"sort"
)

// Analysis is the result of AnalyzeGraph.
type Analysis struct {
	IsValid              bool       `json:"is_valid"`
	Errors               []string   `json:"errors"`
	Warnings             []string   `json:"warnings"`
	Reachable            []string   `json:"reachable"`
	Unreachable          []string   `json:"unreachable"`
	DeadEnds             []string   `json:"dead_ends"`
	Components           [][]string `json:"components"`
	CyclomaticComplexity int        `json:"cyclomatic_complexity"`
	NodeCount            int        `json:"node_count"`
	EdgeCount            int        `json:"edge_count"`
}

// AnalyzeGraph checks references, reachability, dead ends and cycles.
func (g *Graph) AnalyzeGraph() *Analysis {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.analyze()
}

func (g *Graph) analyze() *Analysis {
	a := &Analysis{
		Errors:      []string{},
		Warnings:    []string{},
		Reachable:   []string{},
		Unreachable: []string{},
		DeadEnds:    []string{},
		Components:  [][]string{},
		NodeCount:   len(g.nodes),
		EdgeCount:   len(g.transitions),
	}

	for _, n := range g.nodes {
		if !n.Kind.Valid() {
			a.Errors = append(a.Errors, fmt.Sprintf("node %s has unknown kind %q", n.ID, n.Kind))
		}
	}

	_, hasInitial := g.index[g.initial]
	if g.initial == "" {
		a.Errors = append(a.Errors, "initial state is not declared")
	} else if !hasInitial {
		a.Errors = append(a.Errors, fmt.Sprintf("initial state %s not found", g.initial))
	}
	for _, f := range g.finals {
		if _, ok := g.index[f]; !ok {
			a.Errors = append(a.Errors, fmt.Sprintf("final state %s not found", f))
		}
	}

	adj := g.adjacency()

	if hasInitial {
		reached := g.reachableFrom(g.initial, adj)
		for _, n := range g.nodes {
			if reached[n.ID] {
				a.Reachable = append(a.Reachable, n.ID)
				continue
			}
			a.Unreachable = append(a.Unreachable, n.ID)
			a.Warnings = append(a.Warnings, fmt.Sprintf("state %s is unreachable from %s", n.ID, g.initial))
		}
	}

	for _, n := range g.nodes {
		if len(adj[n.ID]) == 0 && !g.isFinal(n.ID) {
			a.DeadEnds = append(a.DeadEnds, n.ID)
			a.Warnings = append(a.Warnings, fmt.Sprintf("state %s is a dead end", n.ID))
		}
	}

	a.Components = g.stronglyConnected(adj)
	a.CyclomaticComplexity = a.EdgeCount - a.NodeCount + 2*len(a.Components)

	a.IsValid = len(a.Errors) == 0
	return a
}

func (g *Graph) adjacency() map[string][]string {
	adj := make(map[string][]string, len(g.nodes))
	for _, t := range g.transitions {
		adj[t.FromState] = append(adj[t.FromState], t.ToState)
	}
	return adj
}

// reachableFrom runs a breadth-first traversal.
func (g *Graph) reachableFrom(start string, adj map[string][]string) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adj[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// stronglyConnected runs Tarjan's algorithm and returns only the components
// with more than one node. Members are in declaration order.
func (g *Graph) stronglyConnected(adj map[string][]string) [][]string {
	var (
		counter  int
		stack    []string
		onStack  = make(map[string]bool)
		indices  = make(map[string]int)
		lowlinks = make(map[string]int)
		result   [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = counter
		lowlinks[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlinks[v] = min(lowlinks[v], lowlinks[w])
			} else if onStack[w] {
				lowlinks[v] = min(lowlinks[v], indices[w])
			}
		}

		if lowlinks[v] != indices[v] {
			return
		}

		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 {
			result = append(result, component)
		}
	}

	for _, n := range g.nodes {
		if _, seen := indices[n.ID]; !seen {
			strongConnect(n.ID)
		}
	}

	for _, c := range result {
		sort.Slice(c, func(i, j int) bool { return g.index[c[i]] < g.index[c[j]] })
	}
	sort.Slice(result, func(i, j int) bool { return g.index[result[i][0]] < g.index[result[j][0]] })

	if result == nil {
		return [][]string{}
	}
	return result
}
