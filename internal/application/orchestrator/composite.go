package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

// CoordinationMode selects the shape of a composite workflow.
type CoordinationMode string

const (
	// CoordinationSequential chains the domains one after another.
	CoordinationSequential CoordinationMode = "sequential"
	// CoordinationParallel splits into one branch per domain and merges.
	CoordinationParallel CoordinationMode = "parallel"
	// CoordinationConditional routes to one domain chosen by the route variable.
	CoordinationConditional CoordinationMode = "conditional"
)

// routeVariable selects the branch of a conditional composite.
const routeVariable = "route"

var domainName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// CompositeRequest describes a composite workflow.
type CompositeRequest struct {
	Name    string           `json:"name" validate:"required"`
	Domains []string         `json:"domains" validate:"required,min=1,unique,dive,required"`
	Mode    CoordinationMode `json:"mode" validate:"required,oneof=sequential parallel conditional"`
}

// Composite generates a definition for one of the fixed coordination
// patterns. Each domain becomes an actor-task run by the actor of that name.
func (o *Orchestrator) Composite(req CompositeRequest) (*domain.WorkflowDefinition, error) {
	if err := o.validateStruct(req); err != nil {
		return nil, err
	}
	for _, d := range req.Domains {
		if !domainName.MatchString(d) {
			return nil, &domain.ValidationError{Errors: []string{fmt.Sprintf("invalid domain name %q", d)}}
		}
	}

	def := &domain.WorkflowDefinition{
		ID:           fmt.Sprintf("composite-%s-%s", req.Mode, strings.Join(req.Domains, "-")),
		Name:         req.Name,
		InitialState: "start",
		FinalStates:  []string{"done"},
	}

	start := domain.StateNode{ID: "start", Kind: domain.NodeKindInitial}
	done := domain.StateNode{ID: "done", Kind: domain.NodeKindFinal}

	switch req.Mode {
	case CoordinationSequential:
		start.Next = taskID(req.Domains[0])
		def.States = append(def.States, start)
		for i, d := range req.Domains {
			node := domainTask(d)
			if i+1 < len(req.Domains) {
				node.Next = taskID(req.Domains[i+1])
			} else {
				node.Next = done.ID
			}
			def.States = append(def.States, node)
		}

	case CoordinationParallel:
		split := domain.StateNode{ID: "split", Kind: domain.NodeKindParallel, Next: "merge"}
		for _, d := range req.Domains {
			split.Branches = append(split.Branches, taskID(d))
		}
		start.Next = split.ID
		def.States = append(def.States, start, split)
		for _, d := range req.Domains {
			def.States = append(def.States, domainTask(d))
		}
		def.States = append(def.States, domain.StateNode{ID: "merge", Kind: domain.NodeKindIntermediate, Next: done.ID})

	case CoordinationConditional:
		def.Variables = []domain.VariableDeclaration{{
			Name:        routeVariable,
			Type:        domain.VariableString,
			Default:     req.Domains[0],
			Description: "domain to route to",
		}}
		decide := domain.StateNode{ID: "decide", Kind: domain.NodeKindIntermediate, Next: taskID(req.Domains[0])}
		for _, d := range req.Domains {
			decide.NextRules = append(decide.NextRules, domain.NextRule{
				When:   fmt.Sprintf("%s == %q", routeVariable, d),
				Target: taskID(d),
			})
		}
		start.Next = decide.ID
		def.States = append(def.States, start, decide)
		for _, d := range req.Domains {
			node := domainTask(d)
			node.Next = done.ID
			def.States = append(def.States, node)
		}
	}

	def.States = append(def.States, done)

	if err := o.Check(def); err != nil {
		return nil, err
	}

	o.logger.Info("composite definition built",
		zap.String("definition_id", def.ID),
		zap.String("mode", string(req.Mode)),
		zap.Int("domains", len(req.Domains)))
	return def, nil
}

// taskID names the task node of a domain apart from the scaffold states.
func taskID(d string) string { return d + "-task" }

func domainTask(d string) domain.StateNode {
	return domain.StateNode{
		ID:    taskID(d),
		Name:  d,
		Kind:  domain.NodeKindActorTask,
		Actor: d,
		Task:  d,
	}
}
