// Package graph models a workflow as a directed graph of states.
//
// It provides structural validation and analysis:
//   - reachability from the initial state (breadth-first)
//   - dead-end detection for non-final states
//   - strongly connected components (Tarjan) and cyclomatic complexity
//   - depth-bounded simple path enumeration with weight and probability
//
// Graphs can be exported as JSON, YAML, Graphviz DOT or a Mermaid state
// diagram, and laid out with a seeded force-directed placement.
package graph
