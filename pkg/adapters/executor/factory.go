package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/adapters/executor/anthropic"
	"github.com/aescanero/dagflow/pkg/ports"
)

// Config holds task executor configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int64
	System    string
	Recorder  anthropic.CallRecorder
	Logger    *zap.Logger
}

// NewExecutor creates a task executor based on provider
func NewExecutor(cfg *Config) (ports.TaskExecutor, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewExecutor(anthropic.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			System:    cfg.System,
		}, cfg.Recorder, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported executor provider: %s", cfg.Provider)
	}
}
