package orchestrator

import (
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

// Priority is the urgency detected in a description.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// generalDomain is used when no domain keyword matches.
const generalDomain = "general"

// domainKeywords maps a domain to the words that select it.
var domainKeywords = map[string][]string{
	"security":       {"security", "vulnerability", "vulnerabilities", "cve", "auth", "authentication", "secret", "secrets"},
	"testing":        {"test", "tests", "testing", "qa", "coverage", "regression"},
	"documentation":  {"docs", "documentation", "readme", "guide", "changelog"},
	"deployment":     {"deploy", "deployment", "release", "rollout", "rollback", "ship"},
	"performance":    {"performance", "latency", "slow", "throughput", "profiling", "benchmark"},
	"data":           {"data", "etl", "pipeline", "database", "migration", "schema"},
	"frontend":       {"frontend", "ui", "ux", "css", "component", "page"},
	"backend":        {"backend", "api", "endpoint", "service", "server"},
	"infrastructure": {"infrastructure", "kubernetes", "terraform", "cluster", "network", "dns"},
}

var actionVerbs = map[string]bool{
	"analyze": true, "audit": true, "build": true, "check": true, "create": true,
	"deploy": true, "document": true, "fix": true, "implement": true, "migrate": true,
	"monitor": true, "optimize": true, "refactor": true, "review": true, "test": true,
	"update": true, "validate": true,
}

var priorityKeywords = []struct {
	priority Priority
	words    []string
}{
	{PriorityCritical, []string{"critical", "emergency", "outage", "asap"}},
	{PriorityHigh, []string{"urgent", "important", "high", "blocker"}},
	{PriorityLow, []string{"low", "minor", "someday", "whenever", "trivial"}},
}

// Intent is what the keyword matcher found in a description.
type Intent struct {
	Domains  []string `json:"domains"`
	Actions  []string `json:"actions"`
	Priority Priority `json:"priority"`
}

// ParseDescription extracts domains in order of first mention, action verbs
// and a priority level. It is a keyword match and nothing more.
func ParseDescription(text string) Intent {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	lookup := make(map[string]string)
	for d, keys := range domainKeywords {
		for _, k := range keys {
			lookup[k] = d
		}
	}

	intent := Intent{Domains: []string{}, Actions: []string{}, Priority: PriorityMedium}
	seenDomain := make(map[string]bool)
	seenAction := make(map[string]bool)
	present := make(map[string]bool, len(words))

	for _, w := range words {
		present[w] = true
		if d, ok := lookup[w]; ok && !seenDomain[d] {
			seenDomain[d] = true
			intent.Domains = append(intent.Domains, d)
		}
		if actionVerbs[w] && !seenAction[w] {
			seenAction[w] = true
			intent.Actions = append(intent.Actions, w)
		}
	}

	for _, p := range priorityKeywords {
		for _, w := range p.words {
			if present[w] {
				intent.Priority = p.priority
				return intent
			}
		}
	}
	return intent
}

// FromDescription builds a linear skeleton with one actor-task per detected
// domain, chained in detection order. The actor of each task is named after
// its domain.
func (o *Orchestrator) FromDescription(text string) (*domain.WorkflowDefinition, Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Intent{}, &domain.ValidationError{Errors: []string{"description is empty"}}
	}

	intent := ParseDescription(text)
	domains := intent.Domains
	if len(domains) == 0 {
		domains = []string{generalDomain}
	}

	task := "process"
	if len(intent.Actions) > 0 {
		task = intent.Actions[0]
	}

	actions := make([]interface{}, 0, len(intent.Actions))
	for _, a := range intent.Actions {
		actions = append(actions, a)
	}

	states := []domain.StateNode{{ID: "start", Kind: domain.NodeKindInitial}}
	for _, d := range domains {
		id := d + "-task"
		states[len(states)-1].Next = id
		states = append(states, domain.StateNode{
			ID:    id,
			Name:  task + " " + d,
			Kind:  domain.NodeKindActorTask,
			Actor: d,
			Task:  task,
			Input: map[string]interface{}{
				"description": text,
				"actions":     actions,
				"priority":    string(intent.Priority),
			},
			Metadata: domain.NodeMetadata{Tags: []string{d, string(intent.Priority)}},
		})
	}
	states[len(states)-1].Next = "done"
	states = append(states, domain.StateNode{ID: "done", Kind: domain.NodeKindFinal})

	def := &domain.WorkflowDefinition{
		ID:           "described-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(text)).String()[:8],
		Name:         summarize(text),
		Description:  text,
		States:       states,
		InitialState: "start",
		FinalStates:  []string{"done"},
		Context: map[string]interface{}{
			"priority": string(intent.Priority),
		},
	}
	if err := o.Check(def); err != nil {
		return nil, intent, err
	}

	o.logger.Info("definition built from description",
		zap.String("definition_id", def.ID),
		zap.Strings("domains", domains),
		zap.String("priority", string(intent.Priority)))
	return def, intent, nil
}

// Domains returns the domain names the matcher knows, sorted.
func Domains() []string {
	out := make([]string, 0, len(domainKeywords))
	for d := range domainKeywords {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func summarize(text string) string {
	const max = 60
	line := []rune(strings.SplitN(text, "\n", 2)[0])
	if len(line) <= max {
		return string(line)
	}
	return strings.TrimSpace(string(line[:max])) + "..."
}
