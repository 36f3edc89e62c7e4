package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/ports"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// CallRecorder receives per-call usage. The Prometheus collector implements it.
type CallRecorder interface {
	RecordLLMCall(model, status string, inputTokens, outputTokens int64, latency time.Duration)
}

// Config holds the client settings of an executor.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// System is sent as the system prompt of every request.
	System string
	// Options are passed to the SDK client, e.g. option.WithBaseURL.
	Options []option.RequestOption
}

// Executor runs actor tasks by prompting a Claude model. The task name and
// input plus the outputs of previous steps become the user message; the
// reply text is the task output.
type Executor struct {
	client   anthropic.Client
	model    string
	maxTok   int64
	system   string
	recorder CallRecorder
	logger   *zap.Logger
}

// NewExecutor creates an executor. recorder may be nil.
func NewExecutor(cfg Config, recorder CallRecorder, logger *zap.Logger) (*Executor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &Executor{
		client:   anthropic.NewClient(opts...),
		model:    cfg.Model,
		maxTok:   cfg.MaxTokens,
		system:   cfg.System,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Execute implements ports.TaskExecutor.
func (e *Executor) Execute(ctx context.Context, task ports.Task, execCtx map[string]interface{}) (interface{}, error) {
	prompt, err := buildPrompt(task, execCtx)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTok,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if e.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: e.system}}
	}

	start := time.Now()
	msg, err := e.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		e.record("error", 0, 0, latency)
		e.logger.Error("llm call failed",
			zap.String("execution_id", task.ExecutionID),
			zap.String("node_id", task.NodeID),
			zap.String("actor", task.Actor),
			zap.Error(err))
		return nil, fmt.Errorf("llm call for task %s failed: %w", task.Name, err)
	}
	e.record("success", msg.Usage.InputTokens, msg.Usage.OutputTokens, latency)

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	e.logger.Debug("llm call completed",
		zap.String("execution_id", task.ExecutionID),
		zap.String("node_id", task.NodeID),
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("latency", latency))

	out := map[string]interface{}{
		"text":        text.String(),
		"model":       string(msg.Model),
		"stop_reason": string(msg.StopReason),
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text.String())), &data); err == nil {
		out["data"] = data
	}
	return out, nil
}

func (e *Executor) record(status string, in, out int64, latency time.Duration) {
	if e.recorder != nil {
		e.recorder.RecordLLMCall(e.model, status, in, out, latency)
	}
}

// buildPrompt renders a task and the prior step outputs as a user message.
func buildPrompt(task ports.Task, execCtx map[string]interface{}) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nActor: %s\n", task.Name, task.Actor)

	if len(task.Input) > 0 {
		keys := make([]string, 0, len(task.Input))
		for k := range task.Input {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nInput:\n")
		for _, k := range keys {
			v, err := json.Marshal(task.Input[k])
			if err != nil {
				return "", fmt.Errorf("failed to encode input %s: %w", k, err)
			}
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	if steps, ok := execCtx["steps"].(map[string]interface{}); ok && len(steps) > 0 {
		data, err := json.Marshal(steps)
		if err != nil {
			return "", fmt.Errorf("failed to encode previous steps: %w", err)
		}
		fmt.Fprintf(&b, "\nPrevious step outputs:\n%s\n", data)
	}
	return b.String(), nil
}
