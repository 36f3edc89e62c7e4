// Package workers runs the background maintenance of the engine.
//
// The scheduler runs cron jobs that:
//   - Evict terminal executions from the working set
//   - Roll back orphaned store transactions
//   - Write periodic state snapshots
//   - Drop state history past its retention
//
// The health monitor samples engine load and lock usage, records gauges and
// notifies listeners such as the gRPC health service when health changes.
package workers
