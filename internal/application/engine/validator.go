package engine

import (
	"fmt"

	"github.com/aescanero/dagflow/internal/expr"
	"github.com/aescanero/dagflow/internal/graph"
	"github.com/aescanero/dagflow/pkg/domain"
)

// Validator validates workflow definitions before execution
type Validator struct {
	exprs *expr.Cache
}

// NewValidator creates a new definition validator
func NewValidator(exprs *expr.Cache) *Validator {
	if exprs == nil {
		exprs = expr.NewCache()
	}
	return &Validator{exprs: exprs}
}

// Validate checks the definition structure, builds its graph and checks the
// step-specific fields of every node. All problems are reported together.
func (v *Validator) Validate(def *domain.WorkflowDefinition) (*graph.Graph, error) {
	if def == nil {
		return nil, &domain.ValidationError{Errors: []string{"definition is nil"}}
	}

	var errs []string

	// Check basic fields
	if def.ID == "" {
		errs = append(errs, "definition ID is required")
	}
	if len(def.States) == 0 {
		errs = append(errs, "definition must have at least one state")
	}
	if len(errs) > 0 {
		return nil, &domain.ValidationError{Errors: errs}
	}

	g, err := graph.FromDefinition(def)
	if err != nil {
		return nil, err
	}

	for _, node := range def.States {
		errs = append(errs, v.validateNode(def, node)...)
	}
	for _, t := range def.Transitions {
		if t.Guard != "" {
			if _, err := v.exprs.Get(t.Guard); err != nil {
				errs = append(errs, fmt.Sprintf("transition %s: invalid guard: %v", t.ID, err))
			}
		}
	}
	for _, decl := range def.Variables {
		if decl.Name == "" {
			errs = append(errs, "variable name is required")
		}
	}

	if len(errs) > 0 {
		return nil, &domain.ValidationError{Errors: errs}
	}
	return g, nil
}

// validateNode validates the fields a node kind needs to run
func (v *Validator) validateNode(def *domain.WorkflowDefinition, node domain.StateNode) []string {
	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf("state %s: ", node.ID)+fmt.Sprintf(format, args...))
	}

	switch node.Kind {
	case domain.NodeKindActorTask:
		if node.Actor == "" {
			fail("actor is required")
		}
	case domain.NodeKindParallel:
		if len(node.Branches) == 0 {
			fail("parallel state needs at least one branch")
		}
		for _, b := range node.Branches {
			if b == node.ID {
				fail("parallel state cannot branch to itself")
			}
		}
	case domain.NodeKindConditional:
		if node.Condition == "" {
			fail("condition is required")
		} else if _, err := v.exprs.Get(node.Condition); err != nil {
			fail("invalid condition: %v", err)
		}
	case domain.NodeKindWait:
		if node.Duration < 0 {
			fail("wait duration cannot be negative")
		}
	}

	for _, rule := range node.NextRules {
		if _, err := v.exprs.Get(rule.When); err != nil {
			fail("invalid next rule: %v", err)
		}
	}
	for _, dep := range node.DependsOn {
		if _, ok := def.Node(dep); !ok {
			fail("depends on unknown state %s", dep)
		}
	}
	if node.Metadata.Timeout < 0 {
		fail("timeout cannot be negative")
	}
	return errs
}
