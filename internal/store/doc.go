// Package store implements a transactional store of per-owner state records.
//
// Each owner has one current record and a history of the versions it
// replaced. Mutations run inside transactions that lock every touched owner
// by short polling, apply operations in order and undo them in reverse on
// failure. Committed state can be written through to a ports.DocumentStore
// and captured in checksummed snapshots.
package store
