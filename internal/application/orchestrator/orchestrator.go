package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/pkg/domain"
)

// MetricsSource provides the recorded metrics of finished executions.
type MetricsSource interface {
	MetricsHistory(definitionID string) []domain.ExecutionMetrics
}

// Config holds the optimizer thresholds.
type Config struct {
	// CacheVisitThreshold flags states visited at least this many times per execution on average.
	CacheVisitThreshold float64
	// LatencyThreshold flags transitions whose mean source-state duration exceeds it.
	LatencyThreshold time.Duration
	// MinSamples is the number of finished executions needed before suggesting anything.
	MinSamples int
}

// DefaultConfig returns the optimizer defaults.
func DefaultConfig() Config {
	return Config{
		CacheVisitThreshold: 2,
		LatencyThreshold:    5 * time.Second,
		MinSamples:          1,
	}
}

// Orchestrator builds workflow definitions and proposes optimizations.
type Orchestrator struct {
	cfg      Config
	metrics  MetricsSource
	validate *validator.Validate
	graphs   *engine.Validator
	logger   *zap.Logger

	mu        sync.RWMutex
	templates map[string]*Template
}

// New creates an orchestrator with the built-in template catalogue loaded.
func New(cfg Config, metrics MetricsSource, logger *zap.Logger) (*Orchestrator, error) {
	def := DefaultConfig()
	if cfg.CacheVisitThreshold <= 0 {
		cfg.CacheVisitThreshold = def.CacheVisitThreshold
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}

	o := &Orchestrator{
		cfg:       cfg,
		metrics:   metrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		graphs:    engine.NewValidator(nil),
		logger:    logger,
		templates: make(map[string]*Template),
	}

	builtin, err := loadBuiltinTemplates()
	if err != nil {
		return nil, err
	}
	for _, t := range builtin {
		if err := o.RegisterTemplate(t); err != nil {
			return nil, fmt.Errorf("built-in template %s: %w", t.ID, err)
		}
	}

	logger.Info("orchestrator initialized", zap.Int("templates", len(builtin)))
	return o, nil
}

// Check struct-validates def and validates its graph and node fields.
func (o *Orchestrator) Check(def *domain.WorkflowDefinition) error {
	if def == nil {
		return &domain.ValidationError{Errors: []string{"definition is nil"}}
	}
	if err := o.validateStruct(def); err != nil {
		return err
	}
	if _, err := o.graphs.Validate(def); err != nil {
		return err
	}
	return nil
}

// validateStruct runs the struct tag rules and converts failures into a
// ValidationError.
func (o *Orchestrator) validateStruct(v interface{}) error {
	err := o.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &domain.ValidationError{Errors: []string{err.Error()}}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	sort.Strings(msgs)
	return &domain.ValidationError{Errors: msgs}
}
