package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

// SuggestionType is the kind of change a suggestion proposes.
type SuggestionType string

const (
	SuggestParallelize SuggestionType = "parallelize"
	SuggestCache       SuggestionType = "cache"
	SuggestReorder     SuggestionType = "reorder"
)

// Effort rates how much work applying a suggestion takes.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Suggestion is an advisory change to a definition. Impact is in [0, 1].
type Suggestion struct {
	Type   SuggestionType `json:"type"`
	States []string       `json:"states"`
	Reason string         `json:"reason"`
	Impact float64        `json:"impact"`
	Effort Effort         `json:"effort"`
}

type stateStats struct {
	visits int
	total  time.Duration
}

func (s stateStats) mean() time.Duration {
	if s.visits == 0 {
		return 0
	}
	return s.total / time.Duration(s.visits)
}

// Optimize inspects the recorded metrics of def and returns suggestions
// ordered by impact. It never modifies def.
func (o *Orchestrator) Optimize(def *domain.WorkflowDefinition) ([]Suggestion, error) {
	if def == nil {
		return nil, &domain.ValidationError{Errors: []string{"definition is nil"}}
	}

	suggestions := []Suggestion{}
	if o.metrics == nil {
		return suggestions, nil
	}

	history := o.metrics.MetricsHistory(def.ID)
	if len(history) < o.cfg.MinSamples || len(history) == 0 {
		o.logger.Debug("not enough samples to optimize",
			zap.String("definition_id", def.ID),
			zap.Int("samples", len(history)))
		return suggestions, nil
	}

	states := make(map[string]*stateStats)
	transitions := make(map[[2]string]*stateStats)
	for _, m := range history {
		for id, n := range m.StateVisits {
			st := states[id]
			if st == nil {
				st = &stateStats{}
				states[id] = st
			}
			st.visits += n
			st.total += m.StateDurations[id]
		}
		for _, t := range m.Transitions {
			key := [2]string{t.From, t.To}
			st := transitions[key]
			if st == nil {
				st = &stateStats{}
				transitions[key] = st
			}
			st.visits++
			st.total += t.Duration
		}
	}

	suggestions = append(suggestions, o.parallelCandidates(def, states)...)
	suggestions = append(suggestions, o.cacheCandidates(def, states, len(history))...)
	suggestions = append(suggestions, o.reorderCandidates(transitions)...)

	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Impact != b.Impact {
			return a.Impact > b.Impact
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return strings.Join(a.States, ",") < strings.Join(b.States, ",")
	})

	o.logger.Debug("optimization analysis complete",
		zap.String("definition_id", def.ID),
		zap.Int("samples", len(history)),
		zap.Int("suggestions", len(suggestions)))
	return suggestions, nil
}

// parallelCandidates finds consecutive actor tasks where neither declares a
// dependency on the other.
func (o *Orchestrator) parallelCandidates(def *domain.WorkflowDefinition, states map[string]*stateStats) []Suggestion {
	var out []Suggestion
	for _, a := range def.States {
		if a.Kind != domain.NodeKindActorTask || a.Next == "" {
			continue
		}
		b, ok := def.Node(a.Next)
		if !ok || b.Kind != domain.NodeKindActorTask {
			continue
		}
		if dependsOn(*b, a.ID) || dependsOn(a, b.ID) {
			continue
		}

		sa, sb := states[a.ID], states[b.ID]
		if sa == nil || sb == nil {
			continue
		}
		da, db := sa.mean(), sb.mean()
		if da+db <= 0 {
			continue
		}
		shorter := da
		if db < shorter {
			shorter = db
		}

		out = append(out, Suggestion{
			Type:   SuggestParallelize,
			States: []string{a.ID, b.ID},
			Reason: fmt.Sprintf("%s and %s run one after another without a declared dependency", a.ID, b.ID),
			Impact: float64(shorter) / float64(da+db),
			Effort: EffortMedium,
		})
	}
	return out
}

// cacheCandidates finds actor tasks visited more often than the threshold
// per execution.
func (o *Orchestrator) cacheCandidates(def *domain.WorkflowDefinition, states map[string]*stateStats, samples int) []Suggestion {
	var out []Suggestion
	for _, n := range def.States {
		if n.Kind != domain.NodeKindActorTask {
			continue
		}
		st := states[n.ID]
		if st == nil {
			continue
		}
		perRun := float64(st.visits) / float64(samples)
		if perRun < o.cfg.CacheVisitThreshold {
			continue
		}
		out = append(out, Suggestion{
			Type:   SuggestCache,
			States: []string{n.ID},
			Reason: fmt.Sprintf("%s runs %.1f times per execution on average", n.ID, perRun),
			Impact: 1 - 1/perRun,
			Effort: EffortLow,
		})
	}
	return out
}

// reorderCandidates finds transitions whose source state takes longer than
// the latency threshold on average.
func (o *Orchestrator) reorderCandidates(transitions map[[2]string]*stateStats) []Suggestion {
	var out []Suggestion
	for key, st := range transitions {
		mean := st.mean()
		if mean <= o.cfg.LatencyThreshold {
			continue
		}
		out = append(out, Suggestion{
			Type:   SuggestReorder,
			States: []string{key[0], key[1]},
			Reason: fmt.Sprintf("transition %s -> %s averages %s", key[0], key[1], mean),
			Impact: 1 - float64(o.cfg.LatencyThreshold)/float64(mean),
			Effort: EffortHigh,
		})
	}
	return out
}

func dependsOn(n domain.StateNode, id string) bool {
	for _, d := range n.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}
