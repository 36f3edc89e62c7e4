package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrLockTimeout        = errors.New("lock acquisition timed out")
	ErrTransactionTimeout = errors.New("transaction timed out")
	ErrStateNotFound      = errors.New("state not found")
	ErrStateExists        = errors.New("state already exists")
	ErrTimeout            = errors.New("task timed out")
	ErrIntegrity          = errors.New("integrity check failed")
	ErrBackPressure       = errors.New("too many concurrent workflows")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrInvalidStatus      = errors.New("invalid execution status")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUnknownActor       = errors.New("unknown actor")
	ErrNoHistory          = errors.New("no previous state")
)

// ValidationError reports a malformed graph or definition.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LockTimeoutError is returned when an owner lock could not be acquired in time.
type LockTimeoutError struct {
	OwnerID       string
	TransactionID string
	Waited        time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s: lock on %s not acquired after %s", e.TransactionID, e.OwnerID, e.Waited)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// TransactionTimeoutError is returned when a transaction exceeds its bound.
type TransactionTimeoutError struct {
	TransactionID string
	Elapsed       time.Duration
}

func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s exceeded its bound after %s", e.TransactionID, e.Elapsed)
}

func (e *TransactionTimeoutError) Is(target error) bool { return target == ErrTransactionTimeout }

// StateNotFoundError is returned when an owner has no record.
type StateNotFoundError struct {
	OwnerID string
}

func (e *StateNotFoundError) Error() string {
	return fmt.Sprintf("state not found: %s", e.OwnerID)
}

func (e *StateNotFoundError) Is(target error) bool { return target == ErrStateNotFound }

// TimeoutError is returned when an actor task exceeds its bound.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// NodeExecutionError wraps an actor task failure.
type NodeExecutionError struct {
	NodeID string
	Actor  string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	if e.Actor == "" {
		return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Err)
	}
	return fmt.Sprintf("node %s (actor %s) failed: %v", e.NodeID, e.Actor, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }
