// Package grpc serves the standard grpc.health.v1 service. Its status
// follows the engine health monitor.
package grpc
