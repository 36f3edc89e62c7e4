package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ExecutionLookup returns an execution snapshot. The engine implements it.
type ExecutionLookup interface {
	Get(id string) (*domain.WorkflowExecution, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus   ports.EventBus
	executions ExecutionLookup
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, executions ExecutionLookup, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus:   eventBus,
		executions: executions,
		logger:     logger,
	}
}

func isTerminalEvent(t domain.EventType) bool {
	switch t {
	case domain.EventTypeWorkflowCompleted, domain.EventTypeWorkflowFailed, domain.EventTypeWorkflowCancelled:
		return true
	}
	return false
}

// HandleExecutionStream streams the events of one execution until it ends
// or the client disconnects.
func (h *Handler) HandleExecutionStream(c *gin.Context) {
	executionID := c.Param("id")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before looking the execution up so no later event is missed
	eventChan := make(chan domain.Event, 64)
	if err := h.eventBus.Subscribe(ctx, domain.TopicWorkflowEvents, h.forward(executionID, eventChan)); err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	x, err := h.executions.Get(executionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    "NOT_FOUND",
			"message": err.Error(),
		}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	// Reads only serve control frames and detect the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if x.Status.IsTerminal() {
		h.close(conn, string(x.Status))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}

			if isTerminalEvent(event.Type) {
				h.close(conn, string(event.Type))
				return
			}
		}
	}
}

// forward returns an event handler passing this execution's events to ch
func (h *Handler) forward(executionID string, ch chan<- domain.Event) ports.EventHandler {
	return func(ctx context.Context, event domain.Event) error {
		if event.ExecutionID != executionID {
			return nil
		}

		// Send to channel (non-blocking)
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}

func (h *Handler) close(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to write close message", zap.Error(err))
	}
}
