package graph

import (
	"fmt"
	"sync"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Graph is an in-memory directed graph of workflow states. A constructed
// Graph is always valid: every mutation is applied to a copy and committed
// only if the copy still analyzes as valid.
type Graph struct {
	mu          sync.RWMutex
	nodes       []domain.StateNode
	index       map[string]int
	transitions []domain.StateTransition
	initial     string
	finals      []string
}

// New builds a graph and rejects it if the analysis reports errors.
func New(nodes []domain.StateNode, transitions []domain.StateTransition, initial string, finals []string) (*Graph, error) {
	g := &Graph{
		index:   make(map[string]int, len(nodes)),
		initial: initial,
		finals:  append([]string(nil), finals...),
	}

	for _, n := range nodes {
		if err := g.addNode(n); err != nil {
			return nil, err
		}
	}
	for _, t := range transitions {
		if err := g.addTransition(t); err != nil {
			return nil, err
		}
	}

	if a := g.analyze(); !a.IsValid {
		return nil, &domain.ValidationError{Errors: a.Errors}
	}
	return g, nil
}

// FromDefinition builds a graph from a workflow definition. Besides the
// declared transitions, edges are derived from next, next_rules, branches,
// on_true and on_false so the analysis sees every route the engine can take.
func FromDefinition(def *domain.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, &domain.ValidationError{Errors: []string{"definition is nil"}}
	}

	transitions := append([]domain.StateTransition(nil), def.Transitions...)
	seen := make(map[string]bool, len(transitions))
	for _, t := range transitions {
		seen[edgeKey(t.FromState, t.ToState, t.Event)] = true
	}

	derive := func(from, to, event, guard string) {
		if to == "" || seen[edgeKey(from, to, event)] {
			return
		}
		seen[edgeKey(from, to, event)] = true
		transitions = append(transitions, domain.StateTransition{
			ID:        fmt.Sprintf("%s->%s:%s", from, to, event),
			FromState: from,
			ToState:   to,
			Event:     event,
			Guard:     guard,
		})
	}

	for _, n := range def.States {
		for _, r := range n.NextRules {
			derive(n.ID, r.Target, r.When, r.When)
		}
		derive(n.ID, n.Next, "next", "")
		for _, b := range n.Branches {
			derive(n.ID, b, "branch", "")
		}
		derive(n.ID, n.OnTrue, "true", n.Condition)
		derive(n.ID, n.OnFalse, "false", n.Condition)
	}

	return New(def.States, transitions, def.InitialState, def.FinalStates)
}

func edgeKey(from, to, event string) string {
	return from + "\x00" + to + "\x00" + event
}

// AddNode adds a node. It fails if the id already exists.
func (g *Graph) AddNode(node domain.StateNode) error {
	return g.mutate(func(c *Graph) error { return c.addNode(node) })
}

// RemoveNode removes a node and every transition touching it.
func (g *Graph) RemoveNode(id string) error {
	return g.mutate(func(c *Graph) error { return c.removeNode(id) })
}

// AddTransition adds an edge. It fails if an endpoint is unknown or an edge
// with the same (from, to, event) already exists.
func (g *Graph) AddTransition(t domain.StateTransition) error {
	return g.mutate(func(c *Graph) error { return c.addTransition(t) })
}

// RemoveTransition removes the edge with the given id.
func (g *Graph) RemoveTransition(id string) error {
	return g.mutate(func(c *Graph) error { return c.removeTransition(id) })
}

func (g *Graph) mutate(fn func(c *Graph) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.clone()
	if err := fn(c); err != nil {
		return err
	}
	if a := c.analyze(); !a.IsValid {
		return &domain.ValidationError{Errors: a.Errors}
	}

	g.nodes, g.index, g.transitions = c.nodes, c.index, c.transitions
	return nil
}

func (g *Graph) clone() *Graph {
	c := &Graph{
		nodes:       append([]domain.StateNode(nil), g.nodes...),
		index:       make(map[string]int, len(g.index)),
		transitions: append([]domain.StateTransition(nil), g.transitions...),
		initial:     g.initial,
		finals:      g.finals,
	}
	for k, v := range g.index {
		c.index[k] = v
	}
	return c
}

func (g *Graph) addNode(n domain.StateNode) error {
	if n.ID == "" {
		return &domain.ValidationError{Errors: []string{"node id is required"}}
	}
	if _, exists := g.index[n.ID]; exists {
		return &domain.ValidationError{Errors: []string{fmt.Sprintf("duplicate node id: %s", n.ID)}}
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return nil
}

func (g *Graph) removeNode(id string) error {
	pos, ok := g.index[id]
	if !ok {
		return &domain.ValidationError{Errors: []string{fmt.Sprintf("node not found: %s", id)}}
	}

	g.nodes = append(g.nodes[:pos], g.nodes[pos+1:]...)
	g.index = make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		g.index[n.ID] = i
	}

	kept := g.transitions[:0]
	for _, t := range g.transitions {
		if t.FromState != id && t.ToState != id {
			kept = append(kept, t)
		}
	}
	g.transitions = kept
	return nil
}

func (g *Graph) addTransition(t domain.StateTransition) error {
	var errs []string
	if _, ok := g.index[t.FromState]; !ok {
		errs = append(errs, fmt.Sprintf("transition %s references unknown source state: %s", t.ID, t.FromState))
	}
	if _, ok := g.index[t.ToState]; !ok {
		errs = append(errs, fmt.Sprintf("transition %s references unknown target state: %s", t.ID, t.ToState))
	}
	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}

	if t.ID == "" {
		t.ID = fmt.Sprintf("%s->%s:%s", t.FromState, t.ToState, t.Event)
	}
	for _, existing := range g.transitions {
		if existing.ID == t.ID {
			return &domain.ValidationError{Errors: []string{fmt.Sprintf("duplicate transition id: %s", t.ID)}}
		}
		if existing.FromState == t.FromState && existing.ToState == t.ToState && existing.Event == t.Event {
			return &domain.ValidationError{Errors: []string{
				fmt.Sprintf("duplicate transition %s -> %s on event %q", t.FromState, t.ToState, t.Event),
			}}
		}
	}

	g.transitions = append(g.transitions, t)
	return nil
}

func (g *Graph) removeTransition(id string) error {
	for i, t := range g.transitions {
		if t.ID == id {
			g.transitions = append(g.transitions[:i], g.transitions[i+1:]...)
			return nil
		}
	}
	return &domain.ValidationError{Errors: []string{fmt.Sprintf("transition not found: %s", id)}}
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (domain.StateNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pos, ok := g.index[id]
	if !ok {
		return domain.StateNode{}, false
	}
	return g.nodes[pos], true
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []domain.StateNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]domain.StateNode(nil), g.nodes...)
}

// Transitions returns the transitions in declaration order.
func (g *Graph) Transitions() []domain.StateTransition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]domain.StateTransition(nil), g.transitions...)
}

// InitialState returns the initial state id.
func (g *Graph) InitialState() string { return g.initial }

// FinalStates returns the declared final state ids.
func (g *Graph) FinalStates() []string { return append([]string(nil), g.finals...) }

// GetNextStates returns the targets of the outgoing transitions of id.
func (g *Graph) GetNextStates(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	next := []string{}
	for _, t := range g.transitions {
		if t.FromState == id {
			next = appendUnique(next, t.ToState)
		}
	}
	return next
}

// GetPreviousStates returns the sources of the incoming transitions of id.
func (g *Graph) GetPreviousStates(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	prev := []string{}
	for _, t := range g.transitions {
		if t.ToState == id {
			prev = appendUnique(prev, t.FromState)
		}
	}
	return prev
}

// OutgoingTransitions returns the transitions leaving id in declaration order.
func (g *Graph) OutgoingTransitions(id string) []domain.StateTransition {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []domain.StateTransition
	for _, t := range g.transitions {
		if t.FromState == id {
			out = append(out, t)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func (g *Graph) isFinal(id string) bool {
	for _, f := range g.finals {
		if f == id {
			return true
		}
	}
	if pos, ok := g.index[id]; ok {
		return g.nodes[pos].Kind == domain.NodeKindFinal
	}
	return false
}
