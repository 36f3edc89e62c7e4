package workers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/pkg/ports"
)

// Maintenance job names.
const (
	JobEviction       = "eviction"
	JobHeal           = "heal"
	JobSnapshot       = "snapshot"
	JobHistoryCleanup = "history-cleanup"
)

// SchedulerConfig holds cron specs per job. An empty spec disables the job.
type SchedulerConfig struct {
	Eviction       string
	Heal           string
	Snapshot       string
	HistoryCleanup string

	// EvictAfter is how long terminal executions stay queryable.
	EvictAfter time.Duration
	// HistoryRetentionDays is passed to the store's history cleanup.
	HistoryRetentionDays int
}

// JobStatus reports the last run of a maintenance job.
type JobStatus struct {
	Name      string        `json:"name"`
	Spec      string        `json:"spec"`
	Runs      int           `json:"runs"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

type job struct {
	spec string
	run  func(ctx context.Context) (int, error)

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs the periodic maintenance of an engine and its store:
// eviction of terminal executions, orphan transaction healing, snapshots
// and history cleanup.
type Scheduler struct {
	engine  *engine.Engine
	metrics ports.MetricsCollector
	logger  *zap.Logger

	jobs map[string]*job
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler validates the cron specs and prepares the jobs.
func NewScheduler(cfg SchedulerConfig, eng *engine.Engine, metrics ports.MetricsCollector, logger *zap.Logger) (*Scheduler, error) {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	st := eng.Store()

	s := &Scheduler{
		engine:  eng,
		metrics: metrics,
		logger:  logger,
		jobs:    make(map[string]*job),
	}

	add := func(name, spec string, run func(ctx context.Context) (int, error)) error {
		if spec == "" {
			return nil
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid cron expression '%s' for job %s: %w", spec, name, err)
		}
		s.jobs[name] = &job{spec: spec, run: run, status: JobStatus{Name: name, Spec: spec}}
		return nil
	}

	specs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int, error)
	}{
		{JobEviction, cfg.Eviction, func(context.Context) (int, error) {
			return eng.EvictTerminal(cfg.EvictAfter), nil
		}},
		{JobHeal, cfg.Heal, func(context.Context) (int, error) {
			return st.HealOrphans(), nil
		}},
		{JobSnapshot, cfg.Snapshot, func(ctx context.Context) (int, error) {
			snap, err := st.SaveSnapshot(ctx)
			if err != nil {
				return 0, err
			}
			return len(snap.States), nil
		}},
		{JobHistoryCleanup, cfg.HistoryCleanup, func(context.Context) (int, error) {
			if cfg.HistoryRetentionDays <= 0 {
				return 0, nil
			}
			return st.CleanupHistory(cfg.HistoryRetentionDays), nil
		}},
	}
	for _, j := range specs {
		if err := add(j.name, j.spec, j.run); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start registers the jobs with cron and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	for _, name := range s.Jobs() {
		name := name
		j := s.jobs[name]
		entryID, err := s.cron.AddFunc(j.spec, func() {
			_ = s.RunJob(s.ctx, name)
		})
		if err != nil {
			return fmt.Errorf("failed to add cron job %s: %w", name, err)
		}
		s.logger.Info("maintenance job scheduled",
			zap.String("job", name),
			zap.String("cron", j.spec),
			zap.Int("entry_id", int(entryID)))
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Shutdown stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	s.logger.Info("shutting down maintenance scheduler")

	stopped := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-stopped.Done():
		s.logger.Info("maintenance scheduler shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// RunJob runs a job immediately, outside its schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown maintenance job: %s", name)
	}

	started := time.Now()
	n, err := j.run(ctx)
	duration := time.Since(started)

	j.mu.Lock()
	j.status.Runs++
	j.status.LastRun = started
	j.status.Duration = duration
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
	j.mu.Unlock()

	s.metrics.RecordMaintenanceRun(name, duration)

	if err != nil {
		s.logger.Error("maintenance job failed",
			zap.String("job", name),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}
	s.logger.Debug("maintenance job completed",
		zap.String("job", name),
		zap.Int("affected", n),
		zap.Duration("duration", duration))
	return nil
}

// Jobs returns the names of the enabled jobs, sorted.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the status of every enabled job.
func (s *Scheduler) Status() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, name := range s.Jobs() {
		j := s.jobs[name]
		j.mu.Lock()
		out = append(out, j.status)
		j.mu.Unlock()
	}
	return out
}
