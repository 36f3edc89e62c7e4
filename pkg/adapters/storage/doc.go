// Package storage provides document store implementations used as the
// persistence backend of the state store.
//
// Implementations:
//   - redis: Redis string keys under dagflow:doc:, listed with SCAN
//   - file: one file per document below a root directory
//   - memory: In-memory for testing
package storage
