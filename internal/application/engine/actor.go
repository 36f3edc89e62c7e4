package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dagflow/pkg/ports"
)

// RecoveryHook lets an actor repair a failed task. It is used by the forward
// recovery strategy; a successful result replaces the failed output.
type RecoveryHook func(ctx context.Context, task ports.Task, cause error) (interface{}, error)

// Actor is a named, independently schedulable worker invoked by actor-task nodes.
type Actor struct {
	Name     string
	Executor ports.TaskExecutor
	Recover  RecoveryHook
}

// ActorRegistry holds the actors known to one engine instance.
type ActorRegistry struct {
	mu     sync.RWMutex
	actors map[string]Actor
}

// NewActorRegistry creates an empty registry.
func NewActorRegistry() *ActorRegistry {
	return &ActorRegistry{actors: make(map[string]Actor)}
}

// Register adds or replaces an actor.
func (r *ActorRegistry) Register(a Actor) error {
	if a.Name == "" {
		return fmt.Errorf("actor name is required")
	}
	if a.Executor == nil {
		return fmt.Errorf("actor %s has no executor", a.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[a.Name] = a
	return nil
}

// Get returns the actor with the given name.
func (r *ActorRegistry) Get(name string) (Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[name]
	return a, ok
}

// Names returns the registered actor names, sorted.
func (r *ActorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actors))
	for name := range r.actors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
