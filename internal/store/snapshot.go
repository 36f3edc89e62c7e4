package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

// CreateSnapshot copies the current-state map and digests it.
func (s *Store) CreateSnapshot() *domain.Snapshot {
	s.mu.RLock()
	states := make(map[string]*domain.StateRecord, len(s.states))
	for id, rec := range s.states {
		states[id] = rec.Clone()
	}
	s.mu.RUnlock()

	return &domain.Snapshot{
		ID:        uuid.New().String(),
		CreatedAt: s.now(),
		States:    states,
		Checksum:  SnapshotChecksum(states),
	}
}

// RestoreFromSnapshot replaces the current-state map with the snapshot's. The
// checksum is recomputed first; on mismatch the store is left unchanged and an
// ErrIntegrity error is returned. History is kept.
func (s *Store) RestoreFromSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return &domain.ValidationError{Errors: []string{"snapshot is nil"}}
	}
	if got := SnapshotChecksum(snap.States); got != snap.Checksum {
		return fmt.Errorf("%w: snapshot %s checksum mismatch", domain.ErrIntegrity, snap.ID)
	}
	for id, rec := range snap.States {
		if rec == nil || rec.OwnerID != id || RecordChecksum(rec) != rec.Checksum {
			return fmt.Errorf("%w: snapshot %s record %s", domain.ErrIntegrity, snap.ID, id)
		}
	}

	owners := s.Owners()
	for id := range snap.States {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	ops := make([]domain.Operation, 0, len(owners))
	for i, id := range owners {
		if i > 0 && owners[i-1] == id {
			continue
		}
		ops = append(ops, domain.Operation{Type: opRestore, OwnerID: id})
	}

	if _, err := s.runWith(ctx, ops, domain.IsolationSerializable, snap.States); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", snap.ID, err)
	}
	s.logger.Info("restored snapshot",
		zap.String("snapshot_id", snap.ID),
		zap.Int("states", len(snap.States)))
	return nil
}

// SaveSnapshot creates a snapshot and writes it as a timestamped document.
func (s *Store) SaveSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	if s.docs == nil {
		return nil, errors.New("no document store configured")
	}
	snap := s.CreateSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	name := fmt.Sprintf("%ssnapshot-%d.json", snapshotPrefix, snap.CreatedAt.UnixNano())
	if err := s.docs.WriteDocument(ctx, name, data); err != nil {
		s.reportError(fmt.Errorf("write %s: %w", name, err))
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot reads the newest snapshot document.
func (s *Store) LatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	if s.docs == nil {
		return nil, errors.New("no document store configured")
	}
	names, err := s.docs.ListDocuments(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(names) == 0 {
		return nil, domain.ErrDocumentNotFound
	}
	data, err := s.docs.ReadDocument(ctx, names[len(names)-1])
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// persist writes the state and history documents. Failures are reported to
// the error hook and never returned to the committing caller.
func (s *Store) persist(ctx context.Context) {
	if s.docs == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	states, err := json.Marshal(s.states)
	var history []byte
	if err == nil {
		history, err = json.Marshal(s.history)
	}
	s.mu.RUnlock()
	if err != nil {
		s.reportError(fmt.Errorf("marshal store documents: %w", err))
		return
	}

	if err := s.docs.WriteDocument(ctx, stateDocument, states); err != nil {
		s.reportError(fmt.Errorf("write %s: %w", stateDocument, err))
		return
	}
	if err := s.docs.WriteDocument(ctx, historyDocument, history); err != nil {
		s.reportError(fmt.Errorf("write %s: %w", historyDocument, err))
	}
}

// Load rehydrates the store from the state and history documents. It must be
// called before the store is used; it fails if any record is already held.
func (s *Store) Load(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}

	states := make(map[string]*domain.StateRecord)
	history := make(map[string][]*domain.StateRecord)
	if err := s.readDocument(ctx, stateDocument, &states); err != nil {
		return err
	}
	if err := s.readDocument(ctx, historyDocument, &history); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) > 0 || len(s.history) > 0 {
		return errors.New("store already holds state")
	}
	s.states, s.history = states, history

	s.logger.Info("loaded store",
		zap.Int("states", len(states)),
		zap.Int("owners_with_history", len(history)))
	return nil
}

func (s *Store) readDocument(ctx context.Context, name string, v interface{}) error {
	data, err := s.docs.ReadDocument(ctx, name)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}
