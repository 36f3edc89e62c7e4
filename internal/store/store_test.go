package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	"github.com/aescanero/dagflow/pkg/domain"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	cfg := Config{
		MaxTransactionDuration: 200 * time.Millisecond,
		LockPollInterval:       time.Millisecond,
	}
	return New(cfg, nil, zap.NewNop(), opts...)
}

func TestInitializeAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.InitializeState(ctx, "alice", "idle", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, RecordChecksum(rec), rec.Checksum)

	_, err = s.InitializeState(ctx, "alice", "idle", nil)
	require.ErrorIs(t, err, domain.ErrStateExists)

	_, err = s.UpdateState(ctx, "bob", "running", nil)
	require.ErrorIs(t, err, domain.ErrStateNotFound)

	const n = 5
	for i := 0; i < n; i++ {
		rec, err = s.UpdateState(ctx, "alice", "running", map[string]interface{}{"b": i})
		require.NoError(t, err)
	}
	assert.Equal(t, n+1, rec.Version)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": n - 1}, rec.Context)
	assert.Len(t, s.GetStateHistory("alice", 0), n)

	last2 := s.GetStateHistory("alice", 2)
	require.Len(t, last2, 2)
	assert.Equal(t, n-1, last2[0].Version)
	assert.Equal(t, n, last2[1].Version)

	prev, ok := s.GetPreviousState("alice")
	require.True(t, ok)
	assert.Equal(t, n, prev.Version)

	_, ok = s.GetPreviousState("nobody")
	assert.False(t, ok)
}

func TestTransactionAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "existing", "idle", map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	tx, err := s.ExecuteInTransaction(ctx, []domain.Operation{
		{Type: domain.OperationCreate, OwnerID: "fresh", State: "idle"},
		{Type: domain.OperationUpdate, OwnerID: "existing", State: "running", Context: map[string]interface{}{"k": "changed"}},
		{Type: domain.OperationDelete, OwnerID: "ghost"},
	}, domain.IsolationReadCommitted)
	require.ErrorIs(t, err, domain.ErrStateNotFound)
	require.NotNil(t, tx)
	assert.Equal(t, domain.TransactionRolledBack, tx.Status)

	_, err = s.GetCurrentState("fresh")
	require.ErrorIs(t, err, domain.ErrStateNotFound)

	rec, err := s.GetCurrentState("existing")
	require.NoError(t, err)
	assert.Equal(t, "idle", rec.State)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, "v", rec.Context["k"])
	assert.Empty(t, s.GetStateHistory("existing", 0))
	assert.Zero(t, s.HeldLocks())
}

func TestTransactionUndoDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", nil)
	require.NoError(t, err)

	_, err = s.ExecuteInTransaction(ctx, []domain.Operation{
		{Type: domain.OperationDelete, OwnerID: "a"},
		{Type: domain.OperationCreate, OwnerID: "a", State: "recreated"},
		{Type: domain.OperationCreate, OwnerID: "a", State: "again"},
	}, "")
	require.ErrorIs(t, err, domain.ErrStateExists)

	rec, err := s.GetCurrentState("a")
	require.NoError(t, err)
	assert.Equal(t, "idle", rec.State)
	assert.Empty(t, s.GetStateHistory("a", 0))
}

func TestExecuteInTransactionRejectsUnknownOperation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ExecuteInTransaction(context.Background(), []domain.Operation{
		{Type: "revert", OwnerID: "a"},
	}, "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteAndRevert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", nil)
	require.NoError(t, err)

	_, err = s.RevertState(ctx, "a")
	require.ErrorIs(t, err, domain.ErrNoHistory)

	_, err = s.UpdateState(ctx, "a", "running", nil)
	require.NoError(t, err)

	rec, err := s.RevertState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "idle", rec.State)
	assert.Equal(t, 1, rec.Version)
	assert.Empty(t, s.GetStateHistory("a", 0))

	require.NoError(t, s.DeleteState(ctx, "a"))
	_, err = s.GetCurrentState("a")
	require.ErrorIs(t, err, domain.ErrStateNotFound)
	assert.Len(t, s.GetStateHistory("a", 0), 1)
	assert.Empty(t, s.Owners())
}

func TestLockTimeout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", nil)
	require.NoError(t, err)

	require.True(t, s.tryLock("a", "other"))

	start := time.Now()
	_, err = s.UpdateState(ctx, "a", "running", nil)
	require.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), s.cfg.MaxTransactionDuration)

	var lockErr *domain.LockTimeoutError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, "a", lockErr.OwnerID)

	s.release([]string{"a"}, "other")
	_, err = s.UpdateState(ctx, "a", "running", nil)
	require.NoError(t, err)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	s := New(Config{MaxTransactionDuration: 5 * time.Second, LockPollInterval: time.Millisecond}, nil, zap.NewNop())
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", nil)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateState(ctx, "a", "running", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.GetCurrentState("a")
	require.NoError(t, err)
	assert.Equal(t, workers+1, rec.Version)
	assert.Len(t, s.GetStateHistory("a", 0), workers)
}

func TestHistoryLimit(t *testing.T) {
	s := New(Config{HistoryLimit: 2}, nil, zap.NewNop())
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "s0", nil)
	require.NoError(t, err)
	for _, state := range []string{"s1", "s2", "s3"} {
		_, err = s.UpdateState(ctx, "a", state, nil)
		require.NoError(t, err)
	}

	h := s.GetStateHistory("a", 0)
	require.Len(t, h, 2)
	assert.Equal(t, "s1", h[0].State)
	assert.Equal(t, "s2", h[1].State)
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	snap := s.CreateSnapshot()

	_, err = s.UpdateState(ctx, "a", "running", nil)
	require.NoError(t, err)
	_, err = s.InitializeState(ctx, "b", "idle", nil)
	require.NoError(t, err)

	require.NoError(t, s.RestoreFromSnapshot(ctx, snap))
	assert.Equal(t, []string{"a"}, s.Owners())
	rec, err := s.GetCurrentState("a")
	require.NoError(t, err)
	assert.Equal(t, "idle", rec.State)
}

func TestSnapshotIntegrityFailureLeavesStoreUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	snap := s.CreateSnapshot()

	_, err = s.UpdateState(ctx, "a", "running", nil)
	require.NoError(t, err)
	before, err := json.Marshal(s.QueryStates(domain.StateQuery{}))
	require.NoError(t, err)

	snap.States["a"].State = "tampered"
	err = s.RestoreFromSnapshot(ctx, snap)
	require.ErrorIs(t, err, domain.ErrIntegrity)

	snap.Checksum = SnapshotChecksum(snap.States)
	err = s.RestoreFromSnapshot(ctx, snap)
	require.ErrorIs(t, err, domain.ErrIntegrity, "record checksum is still stale")

	after, err := json.Marshal(s.QueryStates(domain.StateQuery{}))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPersistenceAndLoad(t *testing.T) {
	docs := memory.NewDocumentStore()
	cfg := Config{PersistenceEnabled: true}
	ctx := context.Background()

	s := New(cfg, docs, zap.NewNop())
	_, err := s.InitializeState(ctx, "a", "idle", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	_, err = s.UpdateState(ctx, "a", "running", nil)
	require.NoError(t, err)

	saved, err := s.SaveSnapshot(ctx)
	require.NoError(t, err)

	loaded := New(cfg, docs, zap.NewNop())
	require.NoError(t, loaded.Load(ctx))

	rec, err := loaded.GetCurrentState("a")
	require.NoError(t, err)
	assert.Equal(t, "running", rec.State)
	assert.Equal(t, 2, rec.Version)
	assert.Len(t, loaded.GetStateHistory("a", 0), 1)
	require.Error(t, loaded.Load(ctx))

	latest, err := loaded.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, latest.ID)
	require.NoError(t, loaded.RestoreFromSnapshot(ctx, latest))
}

// slowDocs delays writes so concurrent committers overlap in write-through.
type slowDocs struct {
	*memory.DocumentStore
	n atomic.Int64
}

func (d *slowDocs) WriteDocument(ctx context.Context, name string, data []byte) error {
	time.Sleep(time.Duration(d.n.Add(1)%3) * time.Millisecond)
	return d.DocumentStore.WriteDocument(ctx, name, data)
}

func TestConcurrentCommitsArePersisted(t *testing.T) {
	docs := &slowDocs{DocumentStore: memory.NewDocumentStore()}
	cfg := Config{PersistenceEnabled: true, LockPollInterval: time.Millisecond}
	ctx := context.Background()
	s := New(cfg, docs, zap.NewNop())

	const owners = 16
	var wg sync.WaitGroup
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.InitializeState(ctx, fmt.Sprintf("owner-%d", i), "idle", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data, err := docs.ReadDocument(ctx, stateDocument)
	require.NoError(t, err)
	var persisted map[string]*domain.StateRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Len(t, persisted, owners)

	loaded := New(cfg, docs, zap.NewNop())
	require.NoError(t, loaded.Load(ctx))
	assert.Len(t, loaded.Owners(), owners)
}

type failingDocs struct{ *memory.DocumentStore }

func (failingDocs) WriteDocument(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestPersistenceFailureIsReported(t *testing.T) {
	s := New(Config{PersistenceEnabled: true}, failingDocs{memory.NewDocumentStore()}, zap.NewNop())

	var reported []error
	s.OnPersistenceError(func(err error) { reported = append(reported, err) })

	_, err := s.InitializeState(context.Background(), "a", "idle", nil)
	require.NoError(t, err)
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "disk full")
}

func TestQueryStates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", map[string]interface{}{"team": "red"})
	require.NoError(t, err)
	_, err = s.InitializeState(ctx, "b", "running", map[string]interface{}{"team": "red"})
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = s.InitializeState(ctx, "c", "idle", map[string]interface{}{"team": "blue"})
	require.NoError(t, err)

	owners := func(recs []*domain.StateRecord) []string {
		out := []string{}
		for _, r := range recs {
			out = append(out, r.OwnerID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, owners(s.QueryStates(domain.StateQuery{})))
	assert.Equal(t, []string{"a", "c"}, owners(s.QueryStates(domain.StateQuery{State: "idle"})))
	assert.Equal(t, []string{"a", "b"}, owners(s.QueryStates(domain.StateQuery{Context: map[string]interface{}{"team": "red"}})))
	assert.Equal(t, []string{"c"}, owners(s.QueryStates(domain.StateQuery{Since: now})))
	assert.Equal(t, []string{"b"}, owners(s.QueryStates(domain.StateQuery{OwnerIDs: []string{"b", "c"}, Context: map[string]interface{}{"team": "red"}})))
}

func TestCleanupHistory(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "s0", nil)
	require.NoError(t, err)

	now = now.AddDate(0, 0, 10)
	_, err = s.UpdateState(ctx, "a", "s1", nil)
	require.NoError(t, err)
	_, err = s.UpdateState(ctx, "a", "s2", nil)
	require.NoError(t, err)
	_, err = s.InitializeState(ctx, "b", "s0", nil)
	require.NoError(t, err)
	_, err = s.UpdateState(ctx, "b", "s1", nil)
	require.NoError(t, err)

	// b's history entry is recent; locked owners are skipped anyway.
	require.True(t, s.tryLock("b", "busy"))
	defer s.release([]string{"b"}, "busy")

	removed := s.CleanupHistory(7)
	assert.Equal(t, 1, removed)

	h := s.GetStateHistory("a", 0)
	require.Len(t, h, 1)
	assert.Equal(t, "s1", h[0].State)
	assert.Len(t, s.GetStateHistory("b", 0), 1)
}

func TestHealOrphans(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.InitializeState(ctx, "a", "idle", nil)
	require.NoError(t, err)

	// Simulate a transaction that applied an update and then stalled.
	at := &activeTx{
		tx: &domain.Transaction{
			ID:        "stalled",
			Status:    domain.TransactionPending,
			CreatedAt: now,
		},
		owners: []string{"a"},
	}
	require.True(t, s.tryLock("a", "stalled"))
	require.NoError(t, s.apply(at, domain.Operation{Type: domain.OperationUpdate, OwnerID: "a", State: "running"}))
	s.active["stalled"] = at
	require.Len(t, s.ActiveTransactions(), 1)

	assert.Zero(t, s.HealOrphans())

	now = now.Add(3 * s.cfg.MaxTransactionDuration)
	assert.Equal(t, 1, s.HealOrphans())

	rec, err := s.GetCurrentState("a")
	require.NoError(t, err)
	assert.Equal(t, "idle", rec.State)
	assert.Zero(t, s.HeldLocks())
	assert.Empty(t, s.ActiveTransactions())
	assert.Equal(t, domain.TransactionRolledBack, at.tx.Status)
}
