// Package ports defines the narrow capabilities the runtime depends on.
// Adapters under pkg/adapters implement them.
package ports
