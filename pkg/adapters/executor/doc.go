// Package executor provides TaskExecutor implementations for actors.
//
// The factory creates executors based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package executor
