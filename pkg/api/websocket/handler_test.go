package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/internal/store"
	eventsmem "github.com/aescanero/dagflow/pkg/adapters/events/memory"
	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

func setup(t *testing.T) (*engine.Engine, chan struct{}, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := eventsmem.NewEventBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	st := store.New(store.Config{LockPollInterval: time.Millisecond}, nil, zap.NewNop())
	eng := engine.New(engine.DefaultConfig(), st, bus, nil, zap.NewNop())

	release := make(chan struct{})
	require.NoError(t, eng.RegisterActor(context.Background(), engine.Actor{
		Name: "gate",
		Executor: ports.TaskExecutorFunc(func(ctx context.Context, _ ports.Task, _ map[string]interface{}) (interface{}, error) {
			select {
			case <-release:
				return "open", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	}))

	router := gin.New()
	router.GET("/api/v1/workflows/:id/ws", NewHandler(bus, eng, zap.NewNop()).HandleExecutionStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return eng, release, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func gateDef() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:           "gated",
		Name:         "gated",
		InitialState: "wait",
		FinalStates:  []string{"done"},
		States: []domain.StateNode{
			{ID: "wait", Kind: domain.NodeKindActorTask, Actor: "gate", Next: "done"},
			{ID: "done", Kind: domain.NodeKindFinal},
		},
	}
}

func TestStreamEndsWithExecution(t *testing.T) {
	eng, release, base := setup(t)

	x, err := eng.Start(context.Background(), gateDef(), nil)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/api/v1/workflows/"+x.ID+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	close(release)

	var types []domain.EventType
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, x.ID, ev.ExecutionID)
		types = append(types, ev.Type)
	}

	require.NotEmpty(t, types)
	assert.Equal(t, domain.EventTypeWorkflowCompleted, types[len(types)-1])
	assert.Contains(t, types, domain.EventTypeStepCompleted)
}

func TestStreamOfFinishedExecutionCloses(t *testing.T) {
	eng, release, base := setup(t)
	close(release)

	x, err := eng.Execute(context.Background(), gateDef(), nil)
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionStatusCompleted, x.Status)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/api/v1/workflows/"+x.ID+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
}

func TestStreamUnknownExecution(t *testing.T) {
	_, _, base := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/api/v1/workflows/missing/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
