package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aescanero/dagflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ExportFormat selects the textual serialization of a graph.
type ExportFormat string

const (
	ExportJSON    ExportFormat = "json"
	ExportYAML    ExportFormat = "yaml"
	ExportDOT     ExportFormat = "dot"
	ExportMermaid ExportFormat = "mermaid"
)

type exportDocument struct {
	InitialState string                   `json:"initial_state" yaml:"initial_state"`
	FinalStates  []string                 `json:"final_states" yaml:"final_states"`
	States       []domain.StateNode       `json:"states" yaml:"states"`
	Transitions  []domain.StateTransition `json:"transitions" yaml:"transitions"`
}

// Export serializes the graph. Output depends only on declaration order.
func (g *Graph) Export(format ExportFormat) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch format {
	case ExportJSON, ExportYAML:
		doc := exportDocument{
			InitialState: g.initial,
			FinalStates:  append([]string{}, g.finals...),
			States:       append([]domain.StateNode{}, g.nodes...),
			Transitions:  append([]domain.StateTransition{}, g.transitions...),
		}
		if format == ExportYAML {
			return yaml.Marshal(doc)
		}
		return json.MarshalIndent(doc, "", "  ")
	case ExportDOT:
		return []byte(g.dot()), nil
	case ExportMermaid:
		return []byte(g.mermaid()), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func (g *Graph) dot() string {
	var sb strings.Builder
	sb.WriteString("digraph workflow {\n")
	sb.WriteString("    rankdir=LR;\n")
	sb.WriteString("    node [shape=box];\n")

	for _, n := range g.nodes {
		attrs := []string{fmt.Sprintf("label=%q", nodeLabel(n))}
		switch {
		case n.ID == g.initial:
			attrs = append(attrs, "style=bold")
		case g.isFinal(n.ID):
			attrs = append(attrs, "peripheries=2")
		case n.Kind == domain.NodeKindError:
			attrs = append(attrs, "color=red")
		}
		sb.WriteString(fmt.Sprintf("    %q [%s];\n", n.ID, strings.Join(attrs, ", ")))
	}

	for _, t := range g.transitions {
		if t.Event == "" {
			sb.WriteString(fmt.Sprintf("    %q -> %q;\n", t.FromState, t.ToState))
			continue
		}
		sb.WriteString(fmt.Sprintf("    %q -> %q [label=%q];\n", t.FromState, t.ToState, t.Event))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (g *Graph) mermaid() string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")

	for _, n := range g.nodes {
		if label := nodeLabel(n); label != n.ID {
			sb.WriteString(fmt.Sprintf("    state \"%s\" as %s\n", strings.ReplaceAll(label, "\"", "'"), sanitizeMermaidID(n.ID)))
		}
	}

	if g.initial != "" {
		sb.WriteString(fmt.Sprintf("    [*] --> %s\n", sanitizeMermaidID(g.initial)))
	}

	for _, t := range g.transitions {
		line := fmt.Sprintf("    %s --> %s", sanitizeMermaidID(t.FromState), sanitizeMermaidID(t.ToState))
		if t.Event != "" {
			line += " : " + strings.ReplaceAll(t.Event, ":", " ")
		}
		sb.WriteString(line + "\n")
	}

	for _, n := range g.nodes {
		if g.isFinal(n.ID) {
			sb.WriteString(fmt.Sprintf("    %s --> [*]\n", sanitizeMermaidID(n.ID)))
		}
	}

	return sb.String()
}

func nodeLabel(n domain.StateNode) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(id)
}
