package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/store"
	metricsprom "github.com/aescanero/dagflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*Server
	engine *engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := metricsprom.NewCollectorWithRegistry(reg)

	st := store.New(store.Config{LockPollInterval: time.Millisecond}, memory.NewDocumentStore(), zap.NewNop(), store.WithMetrics(metrics))
	eng := engine.New(engine.DefaultConfig(), st, nil, metrics, zap.NewNop())
	require.NoError(t, eng.RegisterActor(context.Background(), engine.Actor{
		Name: "echo",
		Executor: ports.TaskExecutorFunc(func(_ context.Context, task ports.Task, _ map[string]interface{}) (interface{}, error) {
			return task.Input["value"], nil
		}),
	}))

	orch, err := orchestrator.New(orchestrator.DefaultConfig(), eng, zap.NewNop())
	require.NoError(t, err)

	s := NewServer(&Config{
		Port:         0,
		Engine:       eng,
		Orchestrator: orch,
		Gatherer:     reg,
		Logger:       zap.NewNop(),
	})
	return &testServer{Server: s, engine: eng}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func linearDef(actor string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:           "linear",
		Name:         "linear",
		InitialState: "start",
		FinalStates:  []string{"done"},
		States: []domain.StateNode{
			{ID: "start", Kind: domain.NodeKindInitial, Next: "work"},
			{ID: "work", Kind: domain.NodeKindActorTask, Actor: actor, Input: map[string]interface{}{"value": "hi"}, Next: "done"},
			{ID: "done", Kind: domain.NodeKindFinal},
		},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestWorkflowLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/workflows", StartRequest{Definition: linearDef("echo")})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.engine.Wait(ctx, id)
	require.NoError(t, err)

	w = s.do(t, http.MethodGet, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/api/v1/workflows?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = s.do(t, http.MethodGet, "/api/v1/workflows?status=running", nil)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	w = s.do(t, http.MethodPost, "/api/v1/workflows/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/workflows/"+id+"/resume", ResumeRequest{})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/workflows", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/workflows", StartRequest{Definition: linearDef("ghost")})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	assert.NotEmpty(t, body["details"])

	w = s.do(t, http.MethodGet, "/api/v1/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDefinitionTooling(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/definitions/analyze", DefinitionRequest{Definition: linearDef("echo")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	analysis := decode(t, w)
	assert.Equal(t, true, analysis["is_valid"])
	assert.EqualValues(t, 3, analysis["node_count"])

	w = s.do(t, http.MethodPost, "/api/v1/definitions/export?format=mermaid", DefinitionRequest{Definition: linearDef("echo")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stateDiagram-v2")

	w = s.do(t, http.MethodPost, "/api/v1/definitions/export?format=png", DefinitionRequest{Definition: linearDef("echo")})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["templates"], 3)

	w = s.do(t, http.MethodPost, "/api/v1/definitions/template", TemplateRequest{
		TemplateID: "code-review",
		Variables:  map[string]interface{}{"repository": "acme/api"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode(t, w)["definition"])

	w = s.do(t, http.MethodPost, "/api/v1/definitions/template", TemplateRequest{TemplateID: "code-review"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/definitions/describe", DescribeRequest{Description: "scan the code for security issues"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode(t, w)["intent"])

	w = s.do(t, http.MethodPost, "/api/v1/definitions/composite", orchestrator.CompositeRequest{
		Name:    "both",
		Domains: []string{"security", "quality"},
		Mode:    orchestrator.CoordinationParallel,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/definitions/optimize", DefinitionRequest{Definition: linearDef("echo")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "linear", decode(t, w)["definition_id"])
}

func TestActorsAndSnapshots(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/actors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"echo"}, decode(t, w)["actors"])

	w = s.do(t, http.MethodGet, "/api/v1/actors/echo/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["state"])

	w = s.do(t, http.MethodGet, "/api/v1/actors/ghost/state", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/actors/echo/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/actors/echo/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo", decode(t, w)["owner_id"])

	w = s.do(t, http.MethodPost, "/api/v1/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["owners"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/workflows", StartRequest{Definition: linearDef("ghost")})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `dagflow_workflows_admitted_total{outcome="invalid"} 1`)
}
