// Package domain holds the data model shared by the graph, store, engine and
// orchestrator: workflow definitions, state records, transactions,
// executions, events and the error taxonomy.
package domain
