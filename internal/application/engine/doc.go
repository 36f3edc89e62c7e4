// Package engine runs workflow definitions.
//
// The engine coordinates an execution by:
//   - Validating the definition and admitting it under the concurrency ceiling
//   - Executing one state at a time and resolving the next state
//   - Invoking actors, with their local state tracked in the state store
//   - Applying the configured recovery strategy when a step fails
//   - Publishing lifecycle events to the event bus
//
// Executions run in the background; Wait blocks until one halts.
package engine
