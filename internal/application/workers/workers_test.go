package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/internal/store"
	"github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

func newTestEngine(t *testing.T, maxConcurrent int) *engine.Engine {
	t.Helper()
	st := store.New(store.Config{LockPollInterval: time.Millisecond}, memory.NewDocumentStore(), zap.NewNop())
	cfg := engine.DefaultConfig()
	cfg.MaxConcurrentWorkflows = maxConcurrent
	return engine.New(cfg, st, nil, nil, zap.NewNop())
}

func singleTask(actor string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:           "single",
		Name:         "single",
		InitialState: "work",
		FinalStates:  []string{"work"},
		States: []domain.StateNode{
			{ID: "work", Kind: domain.NodeKindActorTask, Actor: actor},
		},
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	eng := newTestEngine(t, 10)
	_, err := NewScheduler(SchedulerConfig{Heal: "every minute"}, eng, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heal")
}

func TestSchedulerJobs(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, 10)
	require.NoError(t, eng.RegisterActor(ctx, engine.Actor{
		Name: "echo",
		Executor: ports.TaskExecutorFunc(func(context.Context, ports.Task, map[string]interface{}) (interface{}, error) {
			return "ok", nil
		}),
	}))

	s, err := NewScheduler(SchedulerConfig{
		Eviction:             "@every 1h",
		Heal:                 "@every 1h",
		Snapshot:             "@every 1h",
		HistoryCleanup:       "@daily",
		EvictAfter:           time.Millisecond,
		HistoryRetentionDays: 30,
	}, eng, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{JobEviction, JobHeal, JobHistoryCleanup, JobSnapshot}, s.Jobs())

	x, err := eng.Execute(ctx, singleTask("echo"), nil)
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionStatusCompleted, x.Status)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.RunJob(ctx, JobEviction))
	assert.Empty(t, eng.List())

	require.NoError(t, s.RunJob(ctx, JobSnapshot))
	snap, err := eng.Store().LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap.States, "echo")

	require.NoError(t, s.RunJob(ctx, JobHeal))
	require.NoError(t, s.RunJob(ctx, JobHistoryCleanup))
	require.Error(t, s.RunJob(ctx, "missing"))

	for _, st := range s.Status() {
		assert.Equal(t, 1, st.Runs, st.Name)
		assert.Empty(t, st.LastError, st.Name)
	}

	require.NoError(t, s.Start(ctx))
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))
}

func TestSnapshotJobReportsFailure(t *testing.T) {
	st := store.New(store.DefaultConfig(), nil, zap.NewNop())
	eng := engine.New(engine.DefaultConfig(), st, nil, nil, zap.NewNop())

	s, err := NewScheduler(SchedulerConfig{Snapshot: "@hourly"}, eng, nil, zap.NewNop())
	require.NoError(t, err)

	require.Error(t, s.RunJob(context.Background(), JobSnapshot))
	status := s.Status()
	require.Len(t, status, 1)
	assert.NotEmpty(t, status[0].LastError)
}

func TestHealthMonitor(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, 1)

	release := make(chan struct{})
	require.NoError(t, eng.RegisterActor(ctx, engine.Actor{
		Name: "slow",
		Executor: ports.TaskExecutorFunc(func(context.Context, ports.Task, map[string]interface{}) (interface{}, error) {
			<-release
			return nil, nil
		}),
	}))

	h := NewHealthMonitor(eng, nil, time.Hour, zap.NewNop())

	var mu sync.Mutex
	var changes []bool
	h.OnChange(func(healthy bool) {
		mu.Lock()
		changes = append(changes, healthy)
		mu.Unlock()
	})

	assert.True(t, h.Check().Healthy)

	x, err := eng.Start(ctx, singleTask("slow"), nil)
	require.NoError(t, err)

	status := h.Check()
	assert.False(t, status.Healthy)
	assert.Equal(t, 1, status.ActiveExecutions)
	assert.False(t, h.IsHealthy())

	close(release)
	_, err = eng.Wait(ctx, x.ID)
	require.NoError(t, err)
	assert.True(t, h.Check().Healthy)

	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, changes)
	mu.Unlock()

	h.Start()
	h.Stop()
}
