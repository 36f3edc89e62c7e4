// Package orchestrator builds workflow definitions for the engine.
//
// Definitions are constructed:
//   - From a registered template and a set of typed variables
//   - From a free-text description, by keyword matching
//   - From a list of domains and a coordination mode
//
// Every definition is struct-validated and graph-validated before it is
// returned. The optimizer reads engine metrics and returns advisory
// suggestions; it never changes a definition.
package orchestrator
