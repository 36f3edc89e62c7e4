package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/expr"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/internal/store"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

// RecoveryStrategy decides what happens when a step fails.
type RecoveryStrategy string

const (
	// RecoveryRollback reverts the affected actors to their prior state and fails the execution.
	RecoveryRollback RecoveryStrategy = "rollback"
	// RecoveryForward delegates to the actor's recovery hook and continues on success.
	RecoveryForward RecoveryStrategy = "forward"
	// RecoveryManual emits an event and pauses the execution until Resume.
	RecoveryManual RecoveryStrategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s RecoveryStrategy) Valid() bool {
	switch s {
	case RecoveryRollback, RecoveryForward, RecoveryManual:
		return true
	}
	return false
}

// Config holds engine limits.
type Config struct {
	// MaxConcurrentWorkflows is the admission ceiling on non-terminal executions.
	MaxConcurrentWorkflows int
	// NodeTimeout bounds an actor task unless the node sets its own timeout.
	NodeTimeout time.Duration
	// WaitDuration is used by wait states without a duration.
	WaitDuration time.Duration
	// RecoveryStrategy applies to every execution of this engine.
	RecoveryStrategy RecoveryStrategy
	// MaxSteps fails executions that run more steps than this.
	MaxSteps int
	// ExecutionTimeout bounds a whole execution. Zero disables it.
	ExecutionTimeout time.Duration
	// MetricsHistory is how many finished executions' metrics are kept per definition.
	MetricsHistory int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkflows: 100,
		NodeTimeout:            30 * time.Second,
		WaitDuration:           time.Second,
		RecoveryStrategy:       RecoveryRollback,
		MaxSteps:               1000,
		MetricsHistory:         100,
	}
}

// Engine drives workflow executions through their definitions.
type Engine struct {
	cfg        Config
	store      *store.Store
	bus        ports.EventBus
	metrics    ports.MetricsCollector
	validator  *Validator
	exprs      *expr.Cache
	actors     *ActorRegistry
	executions *executionRegistry
	logger     *zap.Logger

	historyMu sync.Mutex
	history   map[string][]domain.ExecutionMetrics
}

// New creates an engine. Persistence failures reported by st are published
// as store.persistence_failed events.
func New(cfg Config, st *store.Store, bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = def.NodeTimeout
	}
	if cfg.WaitDuration < 0 {
		cfg.WaitDuration = 0
	}
	if !cfg.RecoveryStrategy.Valid() {
		cfg.RecoveryStrategy = def.RecoveryStrategy
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = def.MetricsHistory
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	exprs := expr.NewCache()
	e := &Engine{
		cfg:        cfg,
		store:      st,
		bus:        bus,
		metrics:    metrics,
		validator:  NewValidator(exprs),
		exprs:      exprs,
		actors:     NewActorRegistry(),
		executions: newExecutionRegistry(),
		logger:     logger,
		history:    make(map[string][]domain.ExecutionMetrics),
	}

	st.OnPersistenceError(func(err error) {
		e.publish(domain.EventTypePersistenceFailed, "", "", map[string]interface{}{
			"error": err.Error(),
		})
	})
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Store returns the state store backing actor state.
func (e *Engine) Store() *store.Store { return e.store }

// Actors returns the actor registry of this engine.
func (e *Engine) Actors() *ActorRegistry { return e.actors }

// RegisterActor adds an actor and creates its idle state record if missing.
func (e *Engine) RegisterActor(ctx context.Context, a Actor) error {
	if err := e.actors.Register(a); err != nil {
		return err
	}
	if _, err := e.store.InitializeState(ctx, a.Name, actorIdle, nil); err != nil && !errors.Is(err, domain.ErrStateExists) {
		return fmt.Errorf("failed to initialize actor %s: %w", a.Name, err)
	}
	e.logger.Info("actor registered", zap.String("actor", a.Name))
	return nil
}

// Validate checks a definition and returns its graph.
func (e *Engine) Validate(def *domain.WorkflowDefinition) (*graph.Graph, error) {
	g, err := e.validator.Validate(def)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, n := range def.States {
		if n.Kind == domain.NodeKindActorTask {
			if _, ok := e.actors.Get(n.Actor); !ok {
				missing = append(missing, fmt.Sprintf("state %s: %v: %s", n.ID, domain.ErrUnknownActor, n.Actor))
			}
		}
	}
	if len(missing) > 0 {
		return nil, &domain.ValidationError{Errors: missing}
	}
	return g, nil
}

// Start validates def, admits a new execution and runs it in the background.
// It returns ErrBackPressure when the number of non-terminal executions has
// reached the configured ceiling.
func (e *Engine) Start(ctx context.Context, def *domain.WorkflowDefinition, input map[string]interface{}) (*domain.WorkflowExecution, error) {
	if _, err := e.Validate(def); err != nil {
		e.metrics.RecordWorkflowAdmission("invalid")
		e.logger.Error("definition validation failed",
			zap.String("definition_id", defID(def)),
			zap.Error(err))
		return nil, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	id := uuid.New().String()
	now := time.Now()
	x := newExecution(def, domain.WorkflowExecution{
		ID:           id,
		DefinitionID: def.ID,
		Context:      initialContext(def, input),
		Status:       domain.ExecutionStatusInitializing,
		CurrentState: def.InitialState,
		StartedAt:    now,
		Steps:        []domain.StepRecord{},
		Metrics: domain.ExecutionMetrics{
			ExecutionID:    id,
			DefinitionID:   def.ID,
			MemoryAtStart:  mem.Alloc,
			StateVisits:    make(map[string]int),
			StateDurations: make(map[string]time.Duration),
			Transitions:    []domain.TransitionSample{},
		},
	})

	if !e.executions.admit(id, x, e.cfg.MaxConcurrentWorkflows) {
		e.metrics.RecordWorkflowAdmission("rejected")
		e.logger.Warn("workflow rejected by admission control",
			zap.String("definition_id", def.ID),
			zap.Int("limit", e.cfg.MaxConcurrentWorkflows))
		return nil, fmt.Errorf("%w: limit %d reached", domain.ErrBackPressure, e.cfg.MaxConcurrentWorkflows)
	}
	e.metrics.RecordWorkflowAdmission("accepted")
	e.metrics.SetActiveExecutions(e.executions.active())

	runCtx, cancel := e.runContext()
	x.mu.Lock()
	x.record.Status = domain.ExecutionStatusRunning
	x.cancelFunc = cancel
	x.mu.Unlock()

	e.publish(domain.EventTypeWorkflowStarted, id, "", map[string]interface{}{
		"definition_id": def.ID,
	})
	e.logger.Info("workflow started",
		zap.String("execution_id", id),
		zap.String("definition_id", def.ID))

	go e.run(runCtx, x)

	return x.snapshot(), nil
}

// Execute starts an execution and waits until it halts.
func (e *Engine) Execute(ctx context.Context, def *domain.WorkflowDefinition, input map[string]interface{}) (*domain.WorkflowExecution, error) {
	started, err := e.Start(ctx, def, input)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, started.ID)
}

// Wait blocks until the execution is terminal or paused, or ctx is done.
func (e *Engine) Wait(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	x, ok := e.executions.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}

	x.mu.RLock()
	stopped := x.stopped
	x.mu.RUnlock()

	select {
	case <-stopped:
		return x.snapshot(), nil
	case <-ctx.Done():
		return x.snapshot(), ctx.Err()
	}
}

// Get returns a snapshot of an execution.
func (e *Engine) Get(id string) (*domain.WorkflowExecution, error) {
	x, ok := e.executions.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}
	return x.snapshot(), nil
}

// List returns snapshots of every tracked execution ordered by start time.
func (e *Engine) List() []*domain.WorkflowExecution {
	return e.executions.list()
}

// ActiveExecutions returns the number of non-terminal executions.
func (e *Engine) ActiveExecutions() int {
	return e.executions.active()
}

// Cancel marks the execution cancelled and cancels its context. A step
// already in flight observes the cancellation cooperatively.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	x, ok := e.executions.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}

	x.mu.Lock()
	if x.record.Status.IsTerminal() {
		status := x.record.Status
		x.mu.Unlock()
		return fmt.Errorf("%w: execution already in terminal state: %s", domain.ErrInvalidStatus, status)
	}
	e.finishLocked(x, domain.ExecutionStatusCancelled, "")
	if x.cancelFunc != nil {
		x.cancelFunc()
	}
	x.mu.Unlock()

	e.afterFinish(x)
	e.logger.Info("workflow execution cancelled", zap.String("execution_id", id))
	return nil
}

// Resume continues a paused execution by re-running the step that halted it.
// patch is merged into the execution context first.
func (e *Engine) Resume(ctx context.Context, id string, patch map[string]interface{}) (*domain.WorkflowExecution, error) {
	x, ok := e.executions.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}

	runCtx, cancel := e.runContext()

	x.mu.Lock()
	if x.record.Status != domain.ExecutionStatusPaused {
		status := x.record.Status
		x.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: cannot resume execution in state %s", domain.ErrInvalidStatus, status)
	}
	for k, v := range patch {
		x.record.Context[k] = v
	}
	x.record.Status = domain.ExecutionStatusRunning
	x.record.Error = ""
	x.cancelFunc = cancel
	x.rearm()
	node := x.record.CurrentState
	x.mu.Unlock()

	e.metrics.SetActiveExecutions(e.executions.active())
	e.publish(domain.EventTypeWorkflowResumed, id, node, nil)
	e.logger.Info("workflow resumed",
		zap.String("execution_id", id),
		zap.String("state", node))

	go e.run(runCtx, x)
	return x.snapshot(), nil
}

// EvictTerminal drops terminal executions that ended more than olderThan ago.
func (e *Engine) EvictTerminal(olderThan time.Duration) int {
	n := e.executions.evict(time.Now().Add(-olderThan))
	if n > 0 {
		e.logger.Debug("evicted terminal executions", zap.Int("count", n))
	}
	return n
}

// MetricsHistory returns the metrics of recently finished executions of a definition.
func (e *Engine) MetricsHistory(definitionID string) []domain.ExecutionMetrics {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	h := e.history[definitionID]
	out := make([]domain.ExecutionMetrics, 0, len(h))
	for _, m := range h {
		out = append(out, m.Clone())
	}
	return out
}

// DefinitionsWithMetrics returns the definition ids that have metrics history, sorted.
func (e *Engine) DefinitionsWithMetrics() []string {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	ids := make([]string, 0, len(e.history))
	for id := range e.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every running execution.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("shutting down execution engine")

	for _, x := range e.executions.all() {
		x.mu.RLock()
		cancel := x.cancelFunc
		x.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
	}

	e.logger.Info("execution engine shut down complete")
	return nil
}

func (e *Engine) runContext() (context.Context, context.CancelFunc) {
	if e.cfg.ExecutionTimeout > 0 {
		return context.WithTimeout(context.Background(), e.cfg.ExecutionTimeout)
	}
	return context.WithCancel(context.Background())
}

// finishLocked moves x to a terminal status. Callers hold x.mu.
func (e *Engine) finishLocked(x *execution, status domain.ExecutionStatus, errMsg string) {
	now := time.Now()
	x.record.Status = status
	x.record.Error = errMsg
	x.record.EndedAt = &now
	x.record.Metrics.Duration = now.Sub(x.record.StartedAt)
	x.halt()
}

// afterFinish publishes the terminal event and records metrics. Callers must
// not hold x.mu.
func (e *Engine) afterFinish(x *execution) {
	snap := x.snapshot()

	e.metrics.RecordWorkflowFinished(string(snap.Status), snap.Metrics.Duration)
	e.metrics.SetActiveExecutions(e.executions.active())
	e.recordHistory(snap.Metrics)

	var eventType domain.EventType
	switch snap.Status {
	case domain.ExecutionStatusCompleted:
		eventType = domain.EventTypeWorkflowCompleted
	case domain.ExecutionStatusFailed:
		eventType = domain.EventTypeWorkflowFailed
	default:
		eventType = domain.EventTypeWorkflowCancelled
	}

	data := map[string]interface{}{
		"status":           string(snap.Status),
		"duration_ms":      snap.Metrics.Duration.Milliseconds(),
		"transition_count": snap.Metrics.TransitionCount,
		"error_count":      snap.Metrics.ErrorCount,
	}
	if snap.Error != "" {
		data["error"] = snap.Error
	}
	e.publish(eventType, snap.ID, snap.CurrentState, data)
}

func (e *Engine) recordHistory(m domain.ExecutionMetrics) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	h := append(e.history[m.DefinitionID], m.Clone())
	if len(h) > e.cfg.MetricsHistory {
		h = h[len(h)-e.cfg.MetricsHistory:]
	}
	e.history[m.DefinitionID] = h
}

func (e *Engine) publish(eventType domain.EventType, executionID, nodeID string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	event := domain.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   time.Now(),
		Data:        data,
	}
	if err := e.bus.Publish(context.Background(), domain.TopicWorkflowEvents, event); err != nil {
		e.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
}

// initialContext layers definition context, variable defaults and input.
func initialContext(def *domain.WorkflowDefinition, input map[string]interface{}) map[string]interface{} {
	ctx := copyContext(def.Context)
	for _, v := range def.Variables {
		if v.Default != nil {
			if _, set := ctx[v.Name]; !set {
				ctx[v.Name] = v.Default
			}
		}
	}
	for k, v := range input {
		ctx[k] = v
	}
	ctx[stepsKey] = map[string]interface{}{}
	return ctx
}

func defID(def *domain.WorkflowDefinition) string {
	if def == nil {
		return ""
	}
	return def.ID
}
