package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

type recoveryAction int

const (
	actionContinue recoveryAction = iota
	actionFail
	actionPause
)

// applyRecovery applies the configured strategy to a failed step. On a successful
// forward recovery out is rewritten in place and its error cleared.
func (e *Engine) applyRecovery(ctx context.Context, x *execution, node domain.StateNode, out *stepOutcome) recoveryAction {
	strategy := e.cfg.RecoveryStrategy
	log := e.logger.With(
		zap.String("execution_id", x.record.ID),
		zap.String("state", node.ID),
		zap.String("strategy", string(strategy)))

	switch strategy {
	case RecoveryForward:
		if err := e.recoverForward(ctx, node, out); err != nil {
			log.Warn("forward recovery failed", zap.Error(err))
			out.err = fmt.Errorf("%w (forward recovery: %v)", out.err, err)
			e.releaseActors(ctx, out, log)
			e.metrics.RecordRecovery(string(strategy), "failed")
			return actionFail
		}
		log.Info("step recovered forward")
		e.metrics.RecordRecovery(string(strategy), "recovered")
		return actionContinue

	case RecoveryManual:
		actors := make([]string, 0, len(out.failed))
		for _, f := range out.failed {
			actors = append(actors, f.task.Actor)
		}
		e.publish(domain.EventTypeManualIntervention, x.record.ID, node.ID, map[string]interface{}{
			"error":  out.err.Error(),
			"actors": actors,
		})
		log.Warn("manual intervention required", zap.Error(out.err))
		e.releaseActors(ctx, out, log)
		e.metrics.RecordRecovery(string(strategy), "paused")
		return actionPause
	}

	// Rollback: restore every failed actor to its prior recorded state.
	seen := make(map[string]bool)
	for _, f := range out.failed {
		if f.task.Actor == "" || seen[f.task.Actor] {
			continue
		}
		seen[f.task.Actor] = true

		rec, err := e.store.RevertState(ctx, f.task.Actor)
		if err != nil {
			log.Error("failed to roll back actor state",
				zap.String("actor", f.task.Actor),
				zap.Error(err))
			continue
		}
		log.Info("actor state rolled back",
			zap.String("actor", f.task.Actor),
			zap.String("restored_state", rec.State),
			zap.Int("version", rec.Version))
	}
	e.metrics.RecordRecovery(string(strategy), "rolled_back")
	return actionFail
}

// releaseActors returns failed actors still marked running to idle and
// records the failure on them.
func (e *Engine) releaseActors(ctx context.Context, out *stepOutcome, log *zap.Logger) {
	seen := make(map[string]bool)
	for _, f := range out.failed {
		if f.task.Actor == "" || seen[f.task.Actor] {
			continue
		}
		seen[f.task.Actor] = true

		rec, err := e.store.GetCurrentState(f.task.Actor)
		if err != nil || rec.State != actorRunning {
			continue
		}
		patch := map[string]interface{}{"last_error": ""}
		if f.err != nil {
			patch["last_error"] = f.err.Error()
		}
		if err := e.setActorState(ctx, f.task.Actor, actorIdle, patch); err != nil {
			log.Warn("failed to release actor",
				zap.String("actor", f.task.Actor),
				zap.Error(err))
		}
	}
}

// recoverForward calls the recovery hook of every failed actor. All hooks
// must succeed for the step to be considered recovered.
func (e *Engine) recoverForward(ctx context.Context, node domain.StateNode, out *stepOutcome) error {
	if len(out.failed) == 0 {
		return fmt.Errorf("no recoverable task")
	}

	type repair struct {
		branch int
		output interface{}
	}
	repairs := make([]repair, 0, len(out.failed))

	for _, f := range out.failed {
		actor, ok := e.actors.Get(f.task.Actor)
		if !ok || actor.Recover == nil {
			return fmt.Errorf("actor %s has no recovery hook", f.task.Actor)
		}
		output, err := actor.Recover(ctx, f.task, f.err)
		if err != nil {
			return fmt.Errorf("actor %s: %w", f.task.Actor, err)
		}
		if err := e.setActorState(ctx, actor.Name, actorIdle, map[string]interface{}{"last_result": output}); err != nil {
			e.logger.Warn("failed to mark recovered actor idle",
				zap.String("actor", actor.Name),
				zap.Error(err))
		}
		repairs = append(repairs, repair{branch: f.branch, output: output})
	}

	if results, ok := out.output.([]domain.BranchResult); ok {
		for _, r := range repairs {
			if r.branch >= 0 && r.branch < len(results) {
				results[r.branch].Output = r.output
				results[r.branch].Error = ""
			}
		}
	} else if len(repairs) > 0 {
		out.output = repairs[0].output
	}

	out.err = nil
	out.failed = nil
	return nil
}
