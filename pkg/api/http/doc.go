// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Workflow execution: start, list, inspect, cancel, resume
//   - Definition tooling: analyze, export, template, describe, composite, optimize
//   - Actor state and history
//   - Store snapshots
//   - Health checks
//   - Prometheus metrics
package http
