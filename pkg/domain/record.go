package domain

import "time"

// StateRecord is one immutable version of an owner's state.
type StateRecord struct {
	ID        string                 `json:"id"`
	OwnerID   string                 `json:"owner_id"`
	State     string                 `json:"state"`
	Context   map[string]interface{} `json:"context"`
	Timestamp time.Time              `json:"timestamp"`
	Version   int                    `json:"version"`
	Checksum  string                 `json:"checksum"`
}

// Clone returns a copy with its own context map. Nested values are shared.
func (r *StateRecord) Clone() *StateRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Context = make(map[string]interface{}, len(r.Context))
	for k, v := range r.Context {
		c.Context[k] = v
	}
	return &c
}

// OperationType is the kind of mutation in a transaction.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Operation is a single buffered mutation applied inside a transaction.
type Operation struct {
	Type    OperationType          `json:"type"`
	OwnerID string                 `json:"owner_id"`
	State   string                 `json:"state,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// TransactionStatus is the lifecycle of a transaction.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionCommitted  TransactionStatus = "committed"
	TransactionRolledBack TransactionStatus = "rolled_back"
)

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCommitted || s == TransactionRolledBack
}

// IsolationLevel is recorded on each transaction. Per-owner exclusive locks
// make every level behave as serializable for the owners a transaction touches.
type IsolationLevel string

const (
	IsolationReadCommitted  IsolationLevel = "read_committed"
	IsolationRepeatableRead IsolationLevel = "repeatable_read"
	IsolationSerializable   IsolationLevel = "serializable"
)

// Transaction describes a group of operations applied atomically.
type Transaction struct {
	ID         string            `json:"id"`
	Operations []Operation       `json:"operations"`
	Status     TransactionStatus `json:"status"`
	Isolation  IsolationLevel    `json:"isolation"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Snapshot is a point-in-time copy of the current-state map.
type Snapshot struct {
	ID        string                  `json:"id"`
	CreatedAt time.Time               `json:"created_at"`
	States    map[string]*StateRecord `json:"states"`
	Checksum  string                  `json:"checksum"`
}

// StateQuery filters records in StateStore.QueryStates. Zero fields match everything.
type StateQuery struct {
	State    string                 `json:"state,omitempty"`
	OwnerIDs []string               `json:"owner_ids,omitempty"`
	Since    time.Time              `json:"since,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}
