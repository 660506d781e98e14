package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is the smallest schedulable unit of work within an iteration.
//
// The task list is built once by the caller (the DSL front end or the
// hosting engine) and handed to the scheduler at construction; tasks
// are never added or reordered while a scenario runs. The body may
// return a *Signal to steer the scheduler, or a plain error to be
// routed through the failure-handling policy.
type Task struct {
	// Name is the stable display name used in logs and statistics.
	Name string

	// Timeout bounds a single invocation of Run. Zero means no limit.
	Timeout time.Duration

	// OnStart runs once when the scenario starts, before any iteration.
	OnStart func(ctx context.Context, a *Actor) error

	// OnStop runs once when the scenario stops, in task order.
	OnStop func(ctx context.Context, a *Actor) error

	// Run is the task body.
	Run func(ctx context.Context, a *Actor) error
}

// Actor is one simulated concurrent user. It owns the variable context
// shared by the tasks of its scenario instance and carries the handles
// tasks need to record statistics and log.
type Actor struct {
	// ID identifies the actor within its scenario.
	ID int

	// Scenario is the scenario this actor runs.
	Scenario string

	vars   map[string]interface{}
	varsMu sync.RWMutex

	stats StatisticsSink
	log   zerolog.Logger
}

// NewActor creates an actor with an empty variable context.
func NewActor(id int, scenarioID string, stats StatisticsSink, logger zerolog.Logger) *Actor {
	if stats == nil {
		stats = NopSink{}
	}
	return &Actor{
		ID:       id,
		Scenario: scenarioID,
		vars:     make(map[string]interface{}),
		stats:    stats,
		log:      logger.With().Str("scenario", scenarioID).Int("actor", id).Logger(),
	}
}

// Stats returns the actor's statistics sink.
func (a *Actor) Stats() StatisticsSink { return a.stats }

// Log returns the actor's logger.
func (a *Actor) Log() zerolog.Logger { return a.log }

// SetVar stores a value in the actor's variable context.
func (a *Actor) SetVar(key string, value interface{}) {
	a.varsMu.Lock()
	defer a.varsMu.Unlock()
	a.vars[key] = value
}

// Var retrieves a value from the actor's variable context.
func (a *Actor) Var(key string) (interface{}, bool) {
	a.varsMu.RLock()
	defer a.varsMu.RUnlock()
	v, ok := a.vars[key]
	return v, ok
}

// MergeVars merges bindings additively into the variable context.
// Existing keys are overwritten.
func (a *Actor) MergeVars(bindings VariableBindings) {
	a.varsMu.Lock()
	defer a.varsMu.Unlock()
	for k, v := range bindings {
		a.vars[k] = v
	}
}

// ResolveVars replaces {{name}} placeholders in input with values from
// the variable context. Unknown placeholders are left as-is.
func (a *Actor) ResolveVars(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	result := input
	a.varsMu.RLock()
	defer a.varsMu.RUnlock()
	for key, value := range a.vars {
		placeholder := fmt.Sprintf("{{%s}}", key)
		result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
	}
	return result
}
