package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
)

// execution holds the runtime state of one workflow invocation.
type execution struct {
	def *domain.WorkflowDefinition

	mu         sync.RWMutex
	record     domain.WorkflowExecution
	steps      int
	cancelFunc context.CancelFunc
	stopped    chan struct{}
	halted     bool
}

func newExecution(def *domain.WorkflowDefinition, record domain.WorkflowExecution) *execution {
	return &execution{
		def:     def,
		record:  record,
		stopped: make(chan struct{}),
	}
}

// snapshot returns a copy safe to hand out. Callers must not hold x.mu.
func (x *execution) snapshot() *domain.WorkflowExecution {
	x.mu.RLock()
	defer x.mu.RUnlock()

	c := x.record
	c.Context = copyContext(x.record.Context)
	c.Steps = append([]domain.StepRecord(nil), x.record.Steps...)
	c.Metrics = x.record.Metrics.Clone()
	if x.record.EndedAt != nil {
		t := *x.record.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func (x *execution) status() domain.ExecutionStatus {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.record.Status
}

// halt closes the stopped channel once per run cycle. Callers hold x.mu.
func (x *execution) halt() {
	if !x.halted {
		x.halted = true
		close(x.stopped)
	}
}

// rearm prepares a new run cycle after a pause. Callers hold x.mu.
func (x *execution) rearm() {
	x.stopped = make(chan struct{})
	x.halted = false
}

// executionRegistry tracks the executions of one engine instance.
type executionRegistry struct {
	mu    sync.RWMutex
	items map[string]*execution
}

func newExecutionRegistry() *executionRegistry {
	return &executionRegistry{items: make(map[string]*execution)}
}

// admit stores x unless the number of non-terminal executions has reached limit.
func (r *executionRegistry) admit(id string, x *execution, limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > 0 && r.activeLocked() >= limit {
		return false
	}
	r.items[id] = x
	return true
}

func (r *executionRegistry) get(id string) (*execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	x, ok := r.items[id]
	return x, ok
}

// list returns snapshots ordered by start time.
func (r *executionRegistry) list() []*domain.WorkflowExecution {
	out := make([]*domain.WorkflowExecution, 0)
	for _, x := range r.all() {
		out = append(out, x.snapshot())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *executionRegistry) active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *executionRegistry) activeLocked() int {
	n := 0
	for _, x := range r.items {
		if !x.status().IsTerminal() {
			n++
		}
	}
	return n
}

// evict removes terminal executions that ended before cutoff.
func (r *executionRegistry) evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, x := range r.items {
		x.mu.RLock()
		ended := x.record.EndedAt
		terminal := x.record.Status.IsTerminal()
		x.mu.RUnlock()
		if terminal && ended != nil && ended.Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n
}

func (r *executionRegistry) all() []*execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*execution, 0, len(r.items))
	for _, x := range r.items {
		out = append(out, x)
	}
	return out
}

func copyContext(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = copyContext(nested)
			continue
		}
		out[k] = v
	}
	return out
}
