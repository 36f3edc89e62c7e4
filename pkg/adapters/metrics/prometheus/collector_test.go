package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dagflow/pkg/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(reg)

	c.RecordWorkflowAdmission("accepted")
	c.RecordWorkflowAdmission("accepted")
	c.RecordWorkflowAdmission("rejected")
	c.RecordWorkflowFinished("completed", time.Second)
	c.RecordStepExecuted("actor-task", "success", 10*time.Millisecond)
	c.SetActiveExecutions(3)
	c.RecordTransaction("committed", time.Millisecond)
	c.RecordLockWait(time.Millisecond)
	c.RecordRecovery("rollback", "rolled_back")
	c.RecordMaintenanceRun("heal", time.Millisecond)
	c.SetHeldLocks(2)
	c.RecordLLMCall("claude", "success", 10, 20, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.workflowsAdmitted.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowsAdmitted.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsExecuted.WithLabelValues("actor-task", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeExecutions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveries.WithLabelValues("rollback", "rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.maintenanceRuns.WithLabelValues("heal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.heldLocks))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.llmTokens.WithLabelValues("claude", "output")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dagflow_workflow_duration_seconds"])
	assert.True(t, names["dagflow_store_lock_wait_seconds"])
}

func TestCollectorsUseSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollectorWithRegistry(prometheus.NewRegistry())
		NewCollectorWithRegistry(prometheus.NewRegistry())
	})
}
