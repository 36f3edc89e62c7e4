package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Internal operation types. They share the lock and undo path with the
// public create, update and delete operations.
const (
	opRevert  domain.OperationType = "revert"
	opRestore domain.OperationType = "restore"
)

// undoEntry captures what an applied operation changed for one owner.
type undoEntry struct {
	ownerID       string
	prev          *domain.StateRecord
	historyPushed bool
	historyPopped *domain.StateRecord
}

type activeTx struct {
	mu     sync.Mutex
	tx     *domain.Transaction
	owners []string
	undo   []undoEntry
	done   bool
	// restore holds the target records of an opRestore operation.
	restore map[string]*domain.StateRecord
}

// ExecuteInTransaction applies ops atomically. Every touched owner is locked
// up front. If any operation fails, already applied operations are undone in
// reverse order before the locks are released and the error is returned.
func (s *Store) ExecuteInTransaction(ctx context.Context, ops []domain.Operation, isolation domain.IsolationLevel) (*domain.Transaction, error) {
	for i, op := range ops {
		switch op.Type {
		case domain.OperationCreate, domain.OperationUpdate, domain.OperationDelete:
		default:
			return nil, &domain.ValidationError{Errors: []string{fmt.Sprintf("operation %d: unknown type %q", i, op.Type)}}
		}
		if op.OwnerID == "" {
			return nil, &domain.ValidationError{Errors: []string{fmt.Sprintf("operation %d: owner id is required", i)}}
		}
	}
	return s.run(ctx, ops, isolation)
}

func (s *Store) run(ctx context.Context, ops []domain.Operation, isolation domain.IsolationLevel) (*domain.Transaction, error) {
	return s.runWith(ctx, ops, isolation, nil)
}

func (s *Store) runWith(ctx context.Context, ops []domain.Operation, isolation domain.IsolationLevel, restore map[string]*domain.StateRecord) (*domain.Transaction, error) {
	if isolation == "" {
		isolation = domain.IsolationSerializable
	}
	began := time.Now()
	at := &activeTx{
		tx: &domain.Transaction{
			ID:         uuid.New().String(),
			Operations: append([]domain.Operation(nil), ops...),
			Status:     domain.TransactionPending,
			Isolation:  isolation,
			CreatedAt:  s.now(),
		},
		owners:  uniqueOwners(ops),
		restore: restore,
	}

	if err := s.acquireAll(ctx, at); err != nil {
		at.tx.Status = domain.TransactionRolledBack
		s.metrics.RecordTransaction(string(domain.TransactionRolledBack), time.Since(began))
		return cloneTx(at.tx), err
	}

	s.txMu.Lock()
	s.active[at.tx.ID] = at
	s.txMu.Unlock()
	defer func() {
		s.txMu.Lock()
		delete(s.active, at.tx.ID)
		s.txMu.Unlock()
	}()

	err := s.applyAll(at, began)
	at.mu.Lock()
	if err == nil && at.done {
		err = &domain.TransactionTimeoutError{TransactionID: at.tx.ID, Elapsed: time.Since(began)}
	}
	if err != nil {
		if !at.done {
			s.rollback(at)
		}
		at.mu.Unlock()
		s.metrics.RecordTransaction(string(domain.TransactionRolledBack), time.Since(began))
		s.logger.Debug("transaction rolled back",
			zap.String("transaction_id", at.tx.ID),
			zap.Error(err))
		return cloneTx(at.tx), fmt.Errorf("transaction %s rolled back: %w", at.tx.ID, err)
	}

	s.commit(at)
	at.mu.Unlock()
	s.metrics.RecordTransaction(string(domain.TransactionCommitted), time.Since(began))

	if s.cfg.PersistenceEnabled {
		s.persist(ctx)
	}
	return cloneTx(at.tx), nil
}

// applyAll applies the operations in submission order. at.mu is held per
// operation so the healer can interleave and win the race to finish.
func (s *Store) applyAll(at *activeTx, began time.Time) error {
	for i, op := range at.tx.Operations {
		at.mu.Lock()
		if at.done {
			at.mu.Unlock()
			return &domain.TransactionTimeoutError{TransactionID: at.tx.ID, Elapsed: time.Since(began)}
		}
		err := s.apply(at, op)
		at.mu.Unlock()
		if err != nil {
			return fmt.Errorf("operation %d (%s %s): %w", i, op.Type, op.OwnerID, err)
		}
		if elapsed := time.Since(began); elapsed > s.cfg.MaxTransactionDuration {
			return &domain.TransactionTimeoutError{TransactionID: at.tx.ID, Elapsed: elapsed}
		}
	}
	return nil
}

// apply executes one operation and records how to undo it.
func (s *Store) apply(at *activeTx, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.states[op.OwnerID]
	entry := undoEntry{ownerID: op.OwnerID, prev: current}

	switch op.Type {
	case domain.OperationCreate:
		if exists {
			return fmt.Errorf("%w: %s", domain.ErrStateExists, op.OwnerID)
		}
		s.states[op.OwnerID] = s.newRecord(op.OwnerID, op.State, copyContext(op.Context), 1)

	case domain.OperationUpdate:
		if !exists {
			return &domain.StateNotFoundError{OwnerID: op.OwnerID}
		}
		merged := copyContext(current.Context)
		for k, v := range op.Context {
			merged[k] = v
		}
		s.history[op.OwnerID] = append(s.history[op.OwnerID], current)
		entry.historyPushed = true
		s.states[op.OwnerID] = s.newRecord(op.OwnerID, op.State, merged, current.Version+1)

	case domain.OperationDelete:
		if !exists {
			return &domain.StateNotFoundError{OwnerID: op.OwnerID}
		}
		s.history[op.OwnerID] = append(s.history[op.OwnerID], current)
		entry.historyPushed = true
		delete(s.states, op.OwnerID)

	case opRevert:
		if !exists {
			return &domain.StateNotFoundError{OwnerID: op.OwnerID}
		}
		h := s.history[op.OwnerID]
		if len(h) == 0 {
			return fmt.Errorf("%w: %s", domain.ErrNoHistory, op.OwnerID)
		}
		entry.historyPopped = h[len(h)-1]
		s.history[op.OwnerID] = h[:len(h)-1]
		s.states[op.OwnerID] = entry.historyPopped

	case opRestore:
		if rec, ok := at.restore[op.OwnerID]; ok {
			s.states[op.OwnerID] = rec.Clone()
		} else {
			delete(s.states, op.OwnerID)
		}

	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}

	at.undo = append(at.undo, entry)
	return nil
}

// rollback reverses the undo log in strict reverse order. Callers hold at.mu.
func (s *Store) rollback(at *activeTx) {
	s.mu.Lock()
	for i := len(at.undo) - 1; i >= 0; i-- {
		e := at.undo[i]
		if e.historyPushed {
			h := s.history[e.ownerID]
			s.history[e.ownerID] = h[:len(h)-1]
			if len(s.history[e.ownerID]) == 0 {
				delete(s.history, e.ownerID)
			}
		}
		if e.historyPopped != nil {
			s.history[e.ownerID] = append(s.history[e.ownerID], e.historyPopped)
		}
		if e.prev == nil {
			delete(s.states, e.ownerID)
		} else {
			s.states[e.ownerID] = e.prev
		}
	}
	s.mu.Unlock()

	at.undo = nil
	at.done = true
	at.tx.Status = domain.TransactionRolledBack
	s.releaseAll(at)
}

// commit trims history to the configured limit and releases the locks.
func (s *Store) commit(at *activeTx) {
	if s.cfg.HistoryLimit > 0 {
		s.mu.Lock()
		for _, owner := range at.owners {
			if h := s.history[owner]; len(h) > s.cfg.HistoryLimit {
				s.history[owner] = append([]*domain.StateRecord(nil), h[len(h)-s.cfg.HistoryLimit:]...)
			}
		}
		s.mu.Unlock()
	}

	at.undo = nil
	at.done = true
	at.tx.Status = domain.TransactionCommitted
	s.releaseAll(at)
}

// acquireAll locks every owner of the transaction in sorted order by polling.
// The overall wait is bounded by MaxTransactionDuration.
func (s *Store) acquireAll(ctx context.Context, at *activeTx) error {
	start := time.Now()
	deadline := start.Add(s.cfg.MaxTransactionDuration)
	defer func() { s.metrics.RecordLockWait(time.Since(start)) }()

	for i, owner := range at.owners {
		for !s.tryLock(owner, at.tx.ID) {
			if !time.Now().Before(deadline) {
				s.release(at.owners[:i], at.tx.ID)
				return &domain.LockTimeoutError{OwnerID: owner, TransactionID: at.tx.ID, Waited: time.Since(start)}
			}
			select {
			case <-ctx.Done():
				s.release(at.owners[:i], at.tx.ID)
				return fmt.Errorf("acquire lock on %s: %w", owner, ctx.Err())
			case <-time.After(s.cfg.LockPollInterval):
			}
		}
	}
	return nil
}

func (s *Store) tryLock(ownerID, txID string) bool {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if holder, held := s.locks[ownerID]; held && holder != txID {
		return false
	}
	s.locks[ownerID] = txID
	s.metrics.SetHeldLocks(len(s.locks))
	return true
}

func (s *Store) release(owners []string, txID string) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	for _, owner := range owners {
		if s.locks[owner] == txID {
			delete(s.locks, owner)
		}
	}
	s.metrics.SetHeldLocks(len(s.locks))
}

func (s *Store) releaseAll(at *activeTx) {
	s.release(at.owners, at.tx.ID)
}

// HeldLocks returns the number of owners currently locked.
func (s *Store) HeldLocks() int {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	return len(s.locks)
}

// ActiveTransactions returns copies of the transactions in flight.
func (s *Store) ActiveTransactions() []domain.Transaction {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	out := make([]domain.Transaction, 0, len(s.active))
	for _, at := range s.active {
		at.mu.Lock()
		out = append(out, *cloneTx(at.tx))
		at.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// HealOrphans force-rolls-back transactions older than twice the maximum
// transaction duration and releases their locks. It returns how many were healed.
func (s *Store) HealOrphans() int {
	cutoff := s.now().Add(-2 * s.cfg.MaxTransactionDuration)

	s.txMu.Lock()
	var orphans []*activeTx
	for _, at := range s.active {
		if at.tx.CreatedAt.Before(cutoff) {
			orphans = append(orphans, at)
		}
	}
	s.txMu.Unlock()

	healed := 0
	for _, at := range orphans {
		at.mu.Lock()
		if !at.done {
			s.rollback(at)
			healed++
			s.logger.Warn("rolled back orphaned transaction",
				zap.String("transaction_id", at.tx.ID),
				zap.Time("created_at", at.tx.CreatedAt))
		}
		at.mu.Unlock()

		s.txMu.Lock()
		delete(s.active, at.tx.ID)
		s.txMu.Unlock()
	}
	return healed
}

func (s *Store) newRecord(ownerID, state string, stateCtx map[string]interface{}, version int) *domain.StateRecord {
	rec := &domain.StateRecord{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		State:     state,
		Context:   stateCtx,
		Timestamp: s.now(),
		Version:   version,
	}
	rec.Checksum = RecordChecksum(rec)
	return rec
}

func uniqueOwners(ops []domain.Operation) []string {
	seen := make(map[string]bool, len(ops))
	owners := make([]string, 0, len(ops))
	for _, op := range ops {
		if !seen[op.OwnerID] {
			seen[op.OwnerID] = true
			owners = append(owners, op.OwnerID)
		}
	}
	sort.Strings(owners)
	return owners
}

func copyContext(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTx(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	c.Operations = append([]domain.Operation(nil), tx.Operations...)
	return &c
}
