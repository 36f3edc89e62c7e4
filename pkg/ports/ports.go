package ports

import (
	"context"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
)

// DocumentStore reads and writes named documents. Filesystem, object storage
// or a database are all valid backends.
type DocumentStore interface {
	// ReadDocument returns domain.ErrDocumentNotFound when name does not exist.
	ReadDocument(ctx context.Context, name string) ([]byte, error)
	WriteDocument(ctx context.Context, name string, data []byte) error
	// ListDocuments returns document names with the given prefix, sorted.
	ListDocuments(ctx context.Context, prefix string) ([]string, error)
}

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes engine events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe registers handler until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// Task is a unit of work handed to an actor.
type Task struct {
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	Actor       string                 `json:"actor"`
	Name        string                 `json:"name"`
	Input       map[string]interface{} `json:"input,omitempty"`
}

// TaskExecutor runs actor tasks. Its implementation is external to the engine.
type TaskExecutor interface {
	Execute(ctx context.Context, task Task, execCtx map[string]interface{}) (interface{}, error)
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(ctx context.Context, task Task, execCtx map[string]interface{}) (interface{}, error)

// Execute calls f.
func (f TaskExecutorFunc) Execute(ctx context.Context, task Task, execCtx map[string]interface{}) (interface{}, error) {
	return f(ctx, task, execCtx)
}

// MetricsCollector records runtime metrics.
type MetricsCollector interface {
	RecordWorkflowAdmission(outcome string)
	RecordWorkflowFinished(status string, duration time.Duration)
	RecordStepExecuted(kind, status string, duration time.Duration)
	SetActiveExecutions(count int)
	RecordTransaction(status string, duration time.Duration)
	RecordLockWait(duration time.Duration)
	RecordRecovery(strategy, outcome string)
	RecordMaintenanceRun(job string, duration time.Duration)
	SetHeldLocks(count int)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) RecordWorkflowAdmission(string) {}
func (NopMetrics) RecordWorkflowFinished(string, time.Duration) {}
func (NopMetrics) RecordStepExecuted(string, string, time.Duration) {}
func (NopMetrics) SetActiveExecutions(int) {}
func (NopMetrics) RecordTransaction(string, time.Duration) {}
func (NopMetrics) RecordLockWait(time.Duration) {}
func (NopMetrics) RecordRecovery(string, string) {}
func (NopMetrics) RecordMaintenanceRun(string, time.Duration) {}
func (NopMetrics) SetHeldLocks(int) {}
