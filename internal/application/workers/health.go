package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/pkg/ports"
)

// HealthMonitor samples engine and store load and reports health changes.
type HealthMonitor struct {
	engine   *engine.Engine
	metrics  ports.MetricsCollector
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	last     *HealthStatus
	onChange []func(healthy bool)
}

// HealthStatus represents the health of the engine
type HealthStatus struct {
	ActiveExecutions    int       `json:"active_executions"`
	MaxConcurrent       int       `json:"max_concurrent"`
	HeldLocks           int       `json:"held_locks"`
	ActiveTransactions  int       `json:"active_transactions"`
	StalledTransactions int       `json:"stalled_transactions"`
	Healthy             bool      `json:"healthy"`
	Timestamp           time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(eng *engine.Engine, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &HealthMonitor{
		engine:   eng,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// OnChange registers fn to be called with the health after every check
// whose result differs from the previous one, and once on the first check.
func (h *HealthMonitor) OnChange(fn func(healthy bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	h.Check()
	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.Check()
		}
	}
}

// Check samples the current status, records gauges and notifies listeners
// when health changed.
func (h *HealthMonitor) Check() *HealthStatus {
	status := h.GetStatus()

	h.metrics.SetActiveExecutions(status.ActiveExecutions)
	h.metrics.SetHeldLocks(status.HeldLocks)

	h.logger.Debug("engine health check",
		zap.Int("active_executions", status.ActiveExecutions),
		zap.Int("held_locks", status.HeldLocks),
		zap.Int("active_transactions", status.ActiveTransactions),
		zap.Bool("healthy", status.Healthy))

	if status.ActiveExecutions >= status.MaxConcurrent && status.MaxConcurrent > 0 {
		h.logger.Warn("engine at admission ceiling - new workflows are rejected",
			zap.Int("max_concurrent", status.MaxConcurrent))
	}
	if status.StalledTransactions > 0 {
		h.logger.Warn("transactions exceed their bound",
			zap.Int("stalled", status.StalledTransactions))
	}

	h.mu.Lock()
	changed := h.last == nil || h.last.Healthy != status.Healthy
	h.last = status
	listeners := append([]func(bool){}, h.onChange...)
	h.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(status.Healthy)
		}
	}
	return status
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	st := h.engine.Store()
	bound := st.Config().MaxTransactionDuration

	txs := st.ActiveTransactions()
	stalled := 0
	now := time.Now()
	for _, tx := range txs {
		if now.Sub(tx.CreatedAt) > bound {
			stalled++
		}
	}

	active := h.engine.ActiveExecutions()
	limit := h.engine.Config().MaxConcurrentWorkflows

	return &HealthStatus{
		ActiveExecutions:    active,
		MaxConcurrent:       limit,
		HeldLocks:           st.HeldLocks(),
		ActiveTransactions:  len(txs),
		StalledTransactions: stalled,
		Healthy:             stalled == 0 && (limit <= 0 || active < limit),
		Timestamp:           now,
	}
}

// IsHealthy returns true if the engine accepts work
func (h *HealthMonitor) IsHealthy() bool {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	if last == nil {
		return h.GetStatus().Healthy
	}
	return last.Healthy
}
