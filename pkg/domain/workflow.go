package domain

// NodeKind identifies what a state node represents. Graph kinds describe the
// shape of a state machine; execution kinds tell the engine how to run a step.
type NodeKind string

const (
	NodeKindInitial      NodeKind = "initial"
	NodeKindIntermediate NodeKind = "intermediate"
	NodeKindFinal        NodeKind = "final"
	NodeKindError        NodeKind = "error"

	NodeKindActorTask   NodeKind = "actor-task"
	NodeKindParallel    NodeKind = "parallel"
	NodeKindConditional NodeKind = "conditional"
	NodeKindWait        NodeKind = "wait"
)

// IsExecutable reports whether the kind carries step semantics.
func (k NodeKind) IsExecutable() bool {
	switch k {
	case NodeKindActorTask, NodeKindParallel, NodeKindConditional, NodeKindWait:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindInitial, NodeKindIntermediate, NodeKindFinal, NodeKindError:
		return true
	}
	return k.IsExecutable()
}

// Position is a 2D layout coordinate. It has no execution meaning.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeMetadata carries per-node execution hints.
type NodeMetadata struct {
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount int      `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// NextRule routes to Target when the guard expression When evaluates true.
type NextRule struct {
	When   string `json:"when" yaml:"when" validate:"required"`
	Target string `json:"target" yaml:"target" validate:"required"`
}

// StateNode is a single state of a workflow.
type StateNode struct {
	ID       string       `json:"id" yaml:"id" validate:"required"`
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind     NodeKind     `json:"kind" yaml:"kind" validate:"required"`
	Metadata NodeMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Position *Position    `json:"position,omitempty" yaml:"position,omitempty"`

	// actor-task
	Actor string                 `json:"actor,omitempty" yaml:"actor,omitempty"`
	Task  string                 `json:"task,omitempty" yaml:"task,omitempty"`
	Input map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`

	// parallel
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`

	// conditional
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	OnTrue    string `json:"on_true,omitempty" yaml:"on_true,omitempty"`
	OnFalse   string `json:"on_false,omitempty" yaml:"on_false,omitempty"`

	// wait
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	Next      string     `json:"next,omitempty" yaml:"next,omitempty"`
	NextRules []NextRule `json:"next_rules,omitempty" yaml:"next_rules,omitempty" validate:"dive"`

	// DependsOn lists states whose output this state consumes.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// TransitionMetadata holds optional edge weights. Nil values mean the default of 1.
type TransitionMetadata struct {
	Weight      *float64 `json:"weight,omitempty" yaml:"weight,omitempty" validate:"omitempty,gte=0"`
	Probability *float64 `json:"probability,omitempty" yaml:"probability,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// EffectiveWeight returns the weight or 1 when unset.
func (m TransitionMetadata) EffectiveWeight() float64 {
	if m.Weight == nil {
		return 1
	}
	return *m.Weight
}

// EffectiveProbability returns the probability or 1 when unset.
func (m TransitionMetadata) EffectiveProbability() float64 {
	if m.Probability == nil {
		return 1
	}
	return *m.Probability
}

// StateTransition is a directed edge between two states.
type StateTransition struct {
	ID        string             `json:"id" yaml:"id" validate:"required"`
	FromState string             `json:"from" yaml:"from" validate:"required"`
	ToState   string             `json:"to" yaml:"to" validate:"required"`
	Event     string             `json:"event" yaml:"event"`
	Guard     string             `json:"guard,omitempty" yaml:"guard,omitempty"`
	Action    string             `json:"action,omitempty" yaml:"action,omitempty"`
	Metadata  TransitionMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// VariableType is the declared type of a workflow variable.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableNumber  VariableType = "number"
	VariableBoolean VariableType = "boolean"
	VariableArray   VariableType = "array"
	VariableObject  VariableType = "object"
)

// VariableDeclaration declares an input variable of a workflow or template.
type VariableDeclaration struct {
	Name        string       `json:"name" yaml:"name" validate:"required"`
	Type        VariableType `json:"type" yaml:"type" validate:"required,oneof=string number boolean array object"`
	Required    bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Default     interface{}  `json:"default,omitempty" yaml:"default,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// WorkflowDefinition is the unit exchanged between the orchestrator and the engine.
type WorkflowDefinition struct {
	ID           string                 `json:"id" yaml:"id" validate:"required"`
	Name         string                 `json:"name" yaml:"name" validate:"required"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	States       []StateNode            `json:"states" yaml:"states" validate:"required,min=1,dive"`
	Transitions  []StateTransition      `json:"transitions,omitempty" yaml:"transitions,omitempty" validate:"dive"`
	InitialState string                 `json:"initial_state" yaml:"initial_state" validate:"required"`
	FinalStates  []string               `json:"final_states,omitempty" yaml:"final_states,omitempty"`
	Variables    []VariableDeclaration  `json:"variables,omitempty" yaml:"variables,omitempty" validate:"dive"`
	Context      map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// Node returns the state with the given id.
func (d *WorkflowDefinition) Node(id string) (*StateNode, bool) {
	for i := range d.States {
		if d.States[i].ID == id {
			return &d.States[i], true
		}
	}
	return nil, false
}

// IsFinal reports whether id is one of the declared final states.
func (d *WorkflowDefinition) IsFinal(id string) bool {
	for _, f := range d.FinalStates {
		if f == id {
			return true
		}
	}
	return false
}
