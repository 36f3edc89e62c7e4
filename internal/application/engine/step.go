package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

const (
	actorIdle    = "idle"
	actorRunning = "running"

	stepsKey = "steps"
	lastKey  = "last"
)

// stepOutcome is the settled result of running one node.
type stepOutcome struct {
	output interface{}
	err    error
	// next is set when the node itself chose its successor.
	next string
	// fatal errors skip recovery.
	fatal  bool
	failed []failedTask
}

// failedTask is an actor task that failed inside a step.
type failedTask struct {
	// branch is the index of the parallel branch, or -1 for the step itself.
	branch int
	task   ports.Task
	err    error
}

// run drives x step by step until it halts. Each iteration executes one node
// and moves the cursor, so long workflows never grow the call stack.
func (e *Engine) run(ctx context.Context, x *execution) {
	for {
		x.mu.Lock()
		if x.record.Status != domain.ExecutionStatusRunning {
			x.mu.Unlock()
			return
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				e.finishLocked(x, domain.ExecutionStatusFailed, "execution timeout")
			} else {
				e.finishLocked(x, domain.ExecutionStatusCancelled, "")
			}
			x.mu.Unlock()
			e.afterFinish(x)
			return
		}
		if x.steps >= e.cfg.MaxSteps {
			e.finishLocked(x, domain.ExecutionStatusFailed, fmt.Sprintf("exceeded %d steps", e.cfg.MaxSteps))
			x.mu.Unlock()
			e.afterFinish(x)
			return
		}
		x.steps++
		nodeID := x.record.CurrentState
		env := copyContext(x.record.Context)
		x.mu.Unlock()

		node, ok := x.def.Node(nodeID)
		if !ok {
			e.fail(x, fmt.Sprintf("state %s not found", nodeID))
			return
		}

		if !e.step(ctx, x, *node, env) {
			return
		}
	}
}

// step executes one node, applies recovery and advances the cursor. It
// returns false when the execution halted.
func (e *Engine) step(ctx context.Context, x *execution, node domain.StateNode, env map[string]interface{}) bool {
	execID := x.record.ID

	e.publish(domain.EventTypeStepStarted, execID, node.ID, map[string]interface{}{
		"kind": string(node.Kind),
	})

	started := time.Now()
	out := e.executeNode(ctx, x, node, env, 0)

	if out.err != nil && ctx.Err() != nil {
		// Cancelled or timed out while in flight; the loop settles the status.
		return true
	}

	action := actionContinue
	recovered := false
	if out.err != nil {
		e.logger.Warn("step failed",
			zap.String("execution_id", execID),
			zap.String("state", node.ID),
			zap.Error(out.err))
		if out.fatal {
			action = actionFail
		} else {
			action = e.applyRecovery(ctx, x, node, &out)
			recovered = action == actionContinue
		}
	}

	duration := time.Since(started)
	status := "success"
	if out.err != nil {
		status = "failure"
	}
	e.metrics.RecordStepExecuted(string(node.Kind), status, duration)

	record := domain.StepRecord{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Output:    out.output,
		Recovered: recovered,
		StartedAt: started,
		Duration:  duration,
	}
	if out.err != nil {
		record.Error = out.err.Error()
	}

	x.mu.Lock()
	if x.record.Status != domain.ExecutionStatusRunning {
		x.mu.Unlock()
		return false
	}
	x.record.Steps = append(x.record.Steps, record)
	x.record.Metrics.RecordVisit(node.ID, duration)
	if out.err != nil || recovered {
		x.record.Metrics.ErrorCount++
	}

	switch action {
	case actionFail:
		e.finishLocked(x, domain.ExecutionStatusFailed, out.err.Error())
		x.mu.Unlock()
		e.publish(domain.EventTypeStepFailed, execID, node.ID, map[string]interface{}{"error": out.err.Error()})
		e.afterFinish(x)
		return false

	case actionPause:
		x.record.Status = domain.ExecutionStatusPaused
		x.record.Error = out.err.Error()
		x.halt()
		x.mu.Unlock()
		e.publish(domain.EventTypeStepFailed, execID, node.ID, map[string]interface{}{"error": out.err.Error()})
		e.publish(domain.EventTypeWorkflowPaused, execID, node.ID, map[string]interface{}{"error": out.err.Error()})
		e.metrics.SetActiveExecutions(e.executions.active())
		e.logger.Info("workflow paused for manual intervention",
			zap.String("execution_id", execID),
			zap.String("state", node.ID))
		return false
	}

	recordOutput(x.record.Context, node, out.output)

	if x.def.IsFinal(node.ID) || node.Kind == domain.NodeKindFinal {
		e.finishLocked(x, domain.ExecutionStatusCompleted, "")
		x.mu.Unlock()
		e.publish(domain.EventTypeStepCompleted, execID, node.ID, nil)
		e.afterFinish(x)
		return false
	}

	next, err := e.resolveNext(x.def, node, out, x.record.Context)
	if err != nil {
		e.finishLocked(x, domain.ExecutionStatusFailed, err.Error())
		x.mu.Unlock()
		e.afterFinish(x)
		return false
	}
	if next == "" {
		e.finishLocked(x, domain.ExecutionStatusCompleted, "")
		x.mu.Unlock()
		e.publish(domain.EventTypeStepCompleted, execID, node.ID, nil)
		e.afterFinish(x)
		return false
	}

	x.record.Metrics.RecordTransition(domain.TransitionSample{From: node.ID, To: next, Duration: duration})
	x.record.CurrentState = next
	x.mu.Unlock()

	e.publish(domain.EventTypeStepCompleted, execID, node.ID, map[string]interface{}{"next": next})
	return true
}

// fail moves x to failed from outside a step.
func (e *Engine) fail(x *execution, msg string) {
	x.mu.Lock()
	if x.record.Status.IsTerminal() {
		x.mu.Unlock()
		return
	}
	e.finishLocked(x, domain.ExecutionStatusFailed, msg)
	x.mu.Unlock()
	e.afterFinish(x)
}

// executeNode dispatches on the node kind. depth counts nested parallel fan-outs.
func (e *Engine) executeNode(ctx context.Context, x *execution, node domain.StateNode, env map[string]interface{}, depth int) stepOutcome {
	switch node.Kind {
	case domain.NodeKindActorTask:
		output, task, err := e.runActorTask(ctx, x.record.ID, node, env)
		if err != nil {
			return stepOutcome{err: err, failed: []failedTask{{branch: -1, task: task, err: err}}}
		}
		return stepOutcome{output: output}

	case domain.NodeKindParallel:
		return e.runParallel(ctx, x, node, env, depth)

	case domain.NodeKindConditional:
		ok, err := e.exprs.EvalBool(node.Condition, env)
		if err != nil {
			return stepOutcome{err: &domain.NodeExecutionError{NodeID: node.ID, Err: err}, fatal: true}
		}
		out := stepOutcome{output: ok}
		if ok {
			out.next = node.OnTrue
		} else {
			out.next = node.OnFalse
		}
		return out

	case domain.NodeKindWait:
		d := node.Duration.Std()
		if d <= 0 {
			d = e.cfg.WaitDuration
		}
		// The wait cannot be shortened; cancellation is observed after it.
		timer := time.NewTimer(d)
		<-timer.C
		return stepOutcome{output: d.String()}

	case domain.NodeKindError:
		return stepOutcome{err: fmt.Errorf("reached error state %s", node.ID), fatal: true}
	}

	// initial, intermediate and final states carry no work.
	return stepOutcome{}
}

// runParallel runs every branch concurrently and waits for all of them to
// settle. A failing branch does not cancel its siblings.
func (e *Engine) runParallel(ctx context.Context, x *execution, node domain.StateNode, env map[string]interface{}, depth int) stepOutcome {
	if depth >= len(x.def.States) {
		return stepOutcome{err: fmt.Errorf("parallel state %s nests too deep", node.ID), fatal: true}
	}

	results := make([]domain.BranchResult, len(node.Branches))
	outcomes := make([]stepOutcome, len(node.Branches))

	var wg sync.WaitGroup
	for i, branchID := range node.Branches {
		results[i].NodeID = branchID
		child, ok := x.def.Node(branchID)
		if !ok {
			outcomes[i] = stepOutcome{err: fmt.Errorf("branch %s not found", branchID), fatal: true}
			continue
		}

		wg.Add(1)
		go func(i int, child domain.StateNode) {
			defer wg.Done()
			outcomes[i] = e.executeNode(ctx, x, child, copyContext(env), depth+1)
		}(i, *child)
	}
	wg.Wait()

	out := stepOutcome{}
	var errs []error
	for i, o := range outcomes {
		results[i].Output = o.output
		if o.err == nil {
			continue
		}
		results[i].Error = o.err.Error()
		errs = append(errs, o.err)
		out.fatal = out.fatal || o.fatal
		for _, f := range o.failed {
			f.branch = i
			out.failed = append(out.failed, f)
		}
	}
	out.output = results
	out.err = errors.Join(errs...)
	return out
}

type taskResult struct {
	output interface{}
	err    error
}

// runActorTask marks the actor running, invokes its executor and races the
// result against the node timeout. Whichever settles first wins.
func (e *Engine) runActorTask(ctx context.Context, execID string, node domain.StateNode, env map[string]interface{}) (interface{}, ports.Task, error) {
	task := ports.Task{
		ExecutionID: execID,
		NodeID:      node.ID,
		Actor:       node.Actor,
		Name:        node.Task,
		Input:       node.Input,
	}
	if task.Name == "" {
		task.Name = node.ID
	}

	actor, ok := e.actors.Get(node.Actor)
	if !ok {
		return nil, task, &domain.NodeExecutionError{NodeID: node.ID, Actor: node.Actor, Err: domain.ErrUnknownActor}
	}

	if err := e.setActorState(ctx, actor.Name, actorRunning, map[string]interface{}{
		"task":         task.Name,
		"execution_id": execID,
		"node_id":      node.ID,
	}); err != nil {
		return nil, task, &domain.NodeExecutionError{NodeID: node.ID, Actor: actor.Name, Err: err}
	}

	timeout := node.Metadata.Timeout.Std()
	if timeout <= 0 {
		timeout = e.cfg.NodeTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		output, err := actor.Executor.Execute(taskCtx, task, env)
		done <- taskResult{output: output, err: err}
	}()

	timedOut := &domain.NodeExecutionError{
		NodeID: node.ID,
		Actor:  actor.Name,
		Err:    &domain.TimeoutError{NodeID: node.ID, Timeout: timeout},
	}

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
				return nil, task, timedOut
			}
			return nil, task, &domain.NodeExecutionError{NodeID: node.ID, Actor: actor.Name, Err: r.err}
		}
		if err := e.setActorState(ctx, actor.Name, actorIdle, map[string]interface{}{"last_result": r.output}); err != nil {
			e.logger.Warn("failed to mark actor idle",
				zap.String("actor", actor.Name),
				zap.Error(err))
		}
		return r.output, task, nil

	case <-taskCtx.Done():
		if ctx.Err() != nil {
			return nil, task, &domain.NodeExecutionError{NodeID: node.ID, Actor: actor.Name, Err: ctx.Err()}
		}
		return nil, task, timedOut
	}
}

// setActorState moves the actor's local state machine, creating its idle
// record first when the actor has none.
func (e *Engine) setActorState(ctx context.Context, actor, state string, patch map[string]interface{}) error {
	_, err := e.store.UpdateState(ctx, actor, state, patch)
	if errors.Is(err, domain.ErrStateNotFound) {
		if _, err = e.store.InitializeState(ctx, actor, actorIdle, nil); err != nil && !errors.Is(err, domain.ErrStateExists) {
			return err
		}
		_, err = e.store.UpdateState(ctx, actor, state, patch)
	}
	return err
}

// resolveNext picks the successor of node: the node's own choice, then the
// first matching next rule, then next, then the first declared transition
// whose guard holds. An empty result ends the workflow.
func (e *Engine) resolveNext(def *domain.WorkflowDefinition, node domain.StateNode, out stepOutcome, env map[string]interface{}) (string, error) {
	if out.next != "" {
		return out.next, nil
	}

	for _, rule := range node.NextRules {
		ok, err := e.exprs.EvalBool(rule.When, env)
		if err != nil {
			return "", fmt.Errorf("state %s: next rule %q: %w", node.ID, rule.When, err)
		}
		if ok {
			return rule.Target, nil
		}
	}

	if node.Next != "" {
		return node.Next, nil
	}

	for _, t := range def.Transitions {
		if t.FromState != node.ID {
			continue
		}
		if t.Guard == "" {
			return t.ToState, nil
		}
		ok, err := e.exprs.EvalBool(t.Guard, env)
		if err != nil {
			return "", fmt.Errorf("transition %s: guard: %w", t.ID, err)
		}
		if ok {
			return t.ToState, nil
		}
	}
	return "", nil
}

// recordOutput stores a step output under steps.<id> and last. Parallel
// outputs are also stored per branch.
func recordOutput(ctx map[string]interface{}, node domain.StateNode, output interface{}) {
	steps, ok := ctx[stepsKey].(map[string]interface{})
	if !ok {
		steps = make(map[string]interface{})
		ctx[stepsKey] = steps
	}

	if results, ok := output.([]domain.BranchResult); ok {
		byBranch := make(map[string]interface{}, len(results))
		for _, r := range results {
			byBranch[r.NodeID] = r.Output
			steps[r.NodeID] = r.Output
		}
		steps[node.ID] = byBranch
		ctx[lastKey] = byBranch
		return
	}

	steps[node.ID] = output
	ctx[lastKey] = output
}
