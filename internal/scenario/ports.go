package scenario

import (
	"context"
	"strings"
	"time"
)

// VariableBindings maps variable names to the values supplied for one
// iteration. Bindings are merged additively into the actor's variable
// context.
type VariableBindings map[string]interface{}

// TestdataSource supplies per-iteration variable bindings for a
// scenario. A nil result with a nil error means the source is
// exhausted and the scenario should end gracefully.
//
// Implementations must be safe for concurrent use by many schedulers.
type TestdataSource interface {
	Next(ctx context.Context, scenarioID string) (VariableBindings, error)
}

// SpawnGate is the process-wide barrier signalling that all target
// actors have started. It is monotonic: once signalled, every wait
// returns immediately.
type SpawnGate interface {
	// Wait blocks until spawning completes or timeout elapses. A
	// negative timeout waits indefinitely. Returns false on timeout or
	// context cancellation.
	Wait(ctx context.Context, timeout time.Duration) bool
}

// SampleKind classifies a statistics record.
type SampleKind string

const (
	// KindScenario records iteration boundaries and scheduler-level
	// failures.
	KindScenario SampleKind = "SCENARIO"
	// KindTestdata records testdata fetches.
	KindTestdata SampleKind = "TESTDATA"
	// KindSpawnWait records the one-time spawn-completion wait.
	KindSpawnWait SampleKind = "SPAWN_WAIT"
	// KindPace records pacing outcomes.
	KindPace SampleKind = "PACE"
)

// Sample is one fire-and-forget statistics record. Task
// implementations use their own opaque kinds alongside the ones
// defined here.
type Sample struct {
	Kind     SampleKind
	Name     string
	Duration time.Duration
	Size     int64
	Context  map[string]string
	Failure  error
}

// StatisticsSink receives samples from schedulers and tasks. It must
// be safe for concurrent use; Record never blocks the caller on
// downstream delivery.
type StatisticsSink interface {
	Record(sample Sample)
}

// NopSink discards all samples.
type NopSink struct{}

func (NopSink) Record(Sample) {}

// Escalation is the configured fallback applied once a local retry
// budget is exhausted or an unrecoverable failure surfaces.
type Escalation int

const (
	// EscalateNone tolerates the failure and moves on.
	EscalateNone Escalation = iota
	// EscalateRetry re-enters the bounded task retry.
	EscalateRetry
	// EscalateRestartIteration reruns the iteration with the same data.
	EscalateRestartIteration
	// EscalateRestartScenario reruns from task 0 with fresh data.
	EscalateRestartScenario
	// EscalateStopUser terminates the actor.
	EscalateStopUser
)

func (e Escalation) String() string {
	switch e {
	case EscalateNone:
		return "none"
	case EscalateRetry:
		return "retry"
	case EscalateRestartIteration:
		return "restart-iteration"
	case EscalateRestartScenario:
		return "restart-scenario"
	case EscalateStopUser:
		return "stop-user"
	default:
		return "unknown"
	}
}

// FailurePolicy maps failure causes to escalations. Lookup with a nil
// cause returns the default entry. The policy is configured before the
// run and read-only while it executes.
type FailurePolicy interface {
	Lookup(cause error) (Escalation, bool)
}

// PolicyRule matches failures whose message contains Match.
type PolicyRule struct {
	Match      string
	Escalation Escalation
}

// PolicyMap is a FailurePolicy backed by substring rules plus an
// optional default. Rules are checked in order; the first hit wins.
type PolicyMap struct {
	Rules   []PolicyRule
	Default *Escalation
}

// Lookup implements FailurePolicy.
func (p PolicyMap) Lookup(cause error) (Escalation, bool) {
	if cause != nil {
		msg := cause.Error()
		for _, r := range p.Rules {
			if r.Match != "" && strings.Contains(msg, r.Match) {
				return r.Escalation, true
			}
		}
	}
	if p.Default != nil {
		return *p.Default, true
	}
	return EscalateNone, false
}
