package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

const (
	stateDocument   = "state.json"
	historyDocument = "history.json"
	snapshotPrefix  = "snapshots/"
)

// Config bounds the store's locking and history.
type Config struct {
	// MaxTransactionDuration bounds both lock acquisition and a whole
	// transaction. Orphans are healed after twice this duration.
	MaxTransactionDuration time.Duration
	LockPollInterval       time.Duration
	// PersistenceEnabled writes the state and history documents on every commit.
	PersistenceEnabled bool
	// HistoryLimit caps history entries per owner. Zero keeps everything.
	HistoryLimit int
}

// DefaultConfig returns a 30s transaction bound polled every 10ms.
func DefaultConfig() Config {
	return Config{
		MaxTransactionDuration: 30 * time.Second,
		LockPollInterval:       10 * time.Millisecond,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a transactional store of per-owner state records. Every mutation
// goes through the per-owner lock and transaction path.
type Store struct {
	cfg     Config
	docs    ports.DocumentStore
	metrics ports.MetricsCollector
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	states  map[string]*domain.StateRecord
	history map[string][]*domain.StateRecord

	lockMu sync.Mutex
	locks  map[string]string

	txMu   sync.Mutex
	active map[string]*activeTx

	// persistMu orders write-through so an older copy never overwrites a newer one.
	persistMu sync.Mutex

	errMu   sync.RWMutex
	onError func(error)
}

// New creates a store. docs may be nil when persistence is disabled.
func New(cfg Config, docs ports.DocumentStore, logger *zap.Logger, opts ...Option) *Store {
	if cfg.MaxTransactionDuration <= 0 {
		cfg.MaxTransactionDuration = DefaultConfig().MaxTransactionDuration
	}
	if cfg.LockPollInterval <= 0 {
		cfg.LockPollInterval = DefaultConfig().LockPollInterval
	}
	s := &Store{
		cfg:     cfg,
		docs:    docs,
		metrics: ports.NopMetrics{},
		logger:  logger,
		now:     time.Now,
		states:  make(map[string]*domain.StateRecord),
		history: make(map[string][]*domain.StateRecord),
		locks:   make(map[string]string),
		active:  make(map[string]*activeTx),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// OnPersistenceError registers fn to be called when writing a document fails.
func (s *Store) OnPersistenceError(fn func(error)) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.onError = fn
}

func (s *Store) reportError(err error) {
	s.logger.Error("persistence failed", zap.Error(err))

	s.errMu.RLock()
	fn := s.onError
	s.errMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// InitializeState creates version 1 of owner's record. It fails if a record exists.
func (s *Store) InitializeState(ctx context.Context, ownerID, state string, stateCtx map[string]interface{}) (*domain.StateRecord, error) {
	if _, err := s.ExecuteInTransaction(ctx, []domain.Operation{
		{Type: domain.OperationCreate, OwnerID: ownerID, State: state, Context: stateCtx},
	}, domain.IsolationSerializable); err != nil {
		return nil, err
	}
	return s.GetCurrentState(ownerID)
}

// UpdateState pushes the current record to history and replaces it with a new
// version whose context is the old context overwritten by patch.
func (s *Store) UpdateState(ctx context.Context, ownerID, state string, patch map[string]interface{}) (*domain.StateRecord, error) {
	if _, err := s.ExecuteInTransaction(ctx, []domain.Operation{
		{Type: domain.OperationUpdate, OwnerID: ownerID, State: state, Context: patch},
	}, domain.IsolationSerializable); err != nil {
		return nil, err
	}
	return s.GetCurrentState(ownerID)
}

// DeleteState removes owner's current record. The record is kept in history.
func (s *Store) DeleteState(ctx context.Context, ownerID string) error {
	_, err := s.ExecuteInTransaction(ctx, []domain.Operation{
		{Type: domain.OperationDelete, OwnerID: ownerID},
	}, domain.IsolationSerializable)
	return err
}

// RevertState discards the current record and restores the immediately prior
// version from history.
func (s *Store) RevertState(ctx context.Context, ownerID string) (*domain.StateRecord, error) {
	if _, err := s.run(ctx, []domain.Operation{
		{Type: opRevert, OwnerID: ownerID},
	}, domain.IsolationSerializable); err != nil {
		return nil, err
	}
	return s.GetCurrentState(ownerID)
}

// GetCurrentState returns a copy of owner's current record.
func (s *Store) GetCurrentState(ownerID string) (*domain.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.states[ownerID]
	if !ok {
		return nil, &domain.StateNotFoundError{OwnerID: ownerID}
	}
	return rec.Clone(), nil
}

// GetPreviousState returns the most recent history entry, if any.
func (s *Store) GetPreviousState(ownerID string) (*domain.StateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[ownerID]
	if len(h) == 0 {
		return nil, false
	}
	return h[len(h)-1].Clone(), true
}

// GetStateHistory returns the most recent limit entries, newest last. A
// non-positive limit returns the whole history.
func (s *Store) GetStateHistory(ownerID string, limit int) []*domain.StateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[ownerID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*domain.StateRecord, 0, len(h))
	for _, rec := range h {
		out = append(out, rec.Clone())
	}
	return out
}

// Owners returns the owners with a current record, sorted.
func (s *Store) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.states))
	for id := range s.states {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return owners
}
