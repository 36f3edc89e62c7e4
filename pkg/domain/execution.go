package domain

import "time"

// ExecutionStatus represents the status of a workflow execution
type ExecutionStatus string

const (
	ExecutionStatusInitializing ExecutionStatus = "initializing"
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusPaused       ExecutionStatus = "paused"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusFailed       ExecutionStatus = "failed"
	ExecutionStatusCancelled    ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted ||
		s == ExecutionStatusFailed ||
		s == ExecutionStatusCancelled
}

// StepRecord is one entry of an execution's step history.
type StepRecord struct {
	NodeID    string        `json:"node_id"`
	Kind      NodeKind      `json:"kind"`
	Output    interface{}   `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Recovered bool          `json:"recovered,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// BranchResult is the settled outcome of one branch of a parallel step.
type BranchResult struct {
	NodeID string      `json:"node_id"`
	Output interface{} `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// TransitionSample records one taken transition and the time spent in its source state.
type TransitionSample struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Duration time.Duration `json:"duration"`
}

// ExecutionMetrics is the metrics snapshot of one execution.
type ExecutionMetrics struct {
	ExecutionID           string                   `json:"execution_id"`
	DefinitionID          string                   `json:"definition_id"`
	TransitionCount       int                      `json:"transition_count"`
	MeanTransitionLatency time.Duration            `json:"mean_transition_latency"`
	ErrorCount            int                      `json:"error_count"`
	Duration              time.Duration            `json:"duration"`
	MemoryAtStart         uint64                   `json:"memory_at_start"`
	StateVisits           map[string]int           `json:"state_visits"`
	StateDurations        map[string]time.Duration `json:"state_durations"`
	Transitions           []TransitionSample       `json:"transitions"`
}

// RecordTransition updates the running count and the incremental mean latency.
func (m *ExecutionMetrics) RecordTransition(sample TransitionSample) {
	m.TransitionCount++
	delta := sample.Duration - m.MeanTransitionLatency
	m.MeanTransitionLatency += delta / time.Duration(m.TransitionCount)
	m.Transitions = append(m.Transitions, sample)
}

// RecordVisit accounts one execution of a state.
func (m *ExecutionMetrics) RecordVisit(nodeID string, d time.Duration) {
	if m.StateVisits == nil {
		m.StateVisits = make(map[string]int)
	}
	if m.StateDurations == nil {
		m.StateDurations = make(map[string]time.Duration)
	}
	m.StateVisits[nodeID]++
	m.StateDurations[nodeID] += d
}

// Clone returns a deep copy.
func (m ExecutionMetrics) Clone() ExecutionMetrics {
	c := m
	c.StateVisits = make(map[string]int, len(m.StateVisits))
	for k, v := range m.StateVisits {
		c.StateVisits[k] = v
	}
	c.StateDurations = make(map[string]time.Duration, len(m.StateDurations))
	for k, v := range m.StateDurations {
		c.StateDurations[k] = v
	}
	c.Transitions = append([]TransitionSample(nil), m.Transitions...)
	return c
}

// WorkflowExecution is the runtime record of one workflow invocation.
type WorkflowExecution struct {
	ID           string                 `json:"id"`
	DefinitionID string                 `json:"definition_id"`
	Context      map[string]interface{} `json:"context"`
	Status       ExecutionStatus        `json:"status"`
	CurrentState string                 `json:"current_state"`
	Error        string                 `json:"error,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      *time.Time             `json:"ended_at,omitempty"`
	Steps        []StepRecord           `json:"steps"`
	Metrics      ExecutionMetrics       `json:"metrics"`
}
