// Package scenario implements the per-actor iteration scheduler: task
// dispatch, bounded retry, iteration and scenario restarts, pacing,
// testdata coordination, and graceful stop.
package scenario

import (
	"errors"
	"fmt"
)

// SignalKind identifies a control signal raised by a task or a
// failure-handling policy.
type SignalKind int

const (
	// SignalRetryTask marks a transient task failure eligible for a
	// bounded local retry.
	SignalRetryTask SignalKind = iota
	// SignalRestartIteration discards the remaining tasks and reruns
	// the iteration from task 0 with the same testdata.
	SignalRestartIteration
	// SignalRestartScenario discards the remaining tasks and reruns
	// from task 0, fetching new testdata on the next iteration.
	SignalRestartScenario
	// SignalStopScenario ends this scenario's iterations gracefully
	// without terminating sibling scenarios.
	SignalStopScenario
	// SignalStopUser terminates the whole simulated actor immediately.
	SignalStopUser
	// SignalRescheduleNow re-enters dispatch without an inter-task wait.
	// It originates from the hosting scheduler and is passed through.
	SignalRescheduleNow
	// SignalRescheduleAfterWait re-enters dispatch after the normal
	// inter-task wait. Pass-through, like SignalRescheduleNow.
	SignalRescheduleAfterWait
)

func (k SignalKind) String() string {
	switch k {
	case SignalRetryTask:
		return "retry-task"
	case SignalRestartIteration:
		return "restart-iteration"
	case SignalRestartScenario:
		return "restart-scenario"
	case SignalStopScenario:
		return "stop-scenario"
	case SignalStopUser:
		return "stop-user"
	case SignalRescheduleNow:
		return "reschedule-now"
	case SignalRescheduleAfterWait:
		return "reschedule-after-wait"
	default:
		return "unknown"
	}
}

// Signal is a control-flow signal carried as an error value. Tasks
// return one instead of a plain error when they want the scheduler to
// do something other than record a failure: retry, restart, or stop.
// The scheduler switches on Kind, so the set of behaviors stays
// exhaustive and testable.
type Signal struct {
	Kind SignalKind

	// MaxRestarts overrides the iteration-restart budget for
	// SignalRestartIteration. Zero or negative means "use the
	// configured default". An explicit override also forces a fresh
	// testdata fetch after the restart.
	MaxRestarts int

	// Reschedule is set on the pass-through signals so the hosting
	// scheduler can tell them apart from terminal ones.
	Reschedule bool

	// Cause is the underlying failure, if any.
	Cause error
}

func (s *Signal) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("%s: %v", s.Kind, s.Cause)
	}
	return s.Kind.String()
}

func (s *Signal) Unwrap() error { return s.Cause }

// RetryTask builds a transient-failure signal wrapping cause.
func RetryTask(cause error) *Signal {
	return &Signal{Kind: SignalRetryTask, Cause: cause}
}

// RestartIteration builds a restart-iteration signal with the default
// restart budget. The same testdata is reused for the rerun.
func RestartIteration(cause error) *Signal {
	return &Signal{Kind: SignalRestartIteration, Cause: cause}
}

// RestartIterationLimit is RestartIteration with an explicit budget.
// An explicit budget forces a fresh testdata fetch on the rerun.
func RestartIterationLimit(cause error, maxRestarts int) *Signal {
	return &Signal{Kind: SignalRestartIteration, MaxRestarts: maxRestarts, Cause: cause}
}

// RestartScenario builds a restart-scenario signal wrapping cause.
func RestartScenario(cause error) *Signal {
	return &Signal{Kind: SignalRestartScenario, Cause: cause}
}

// StopScenario builds a graceful-termination signal.
func StopScenario() *Signal {
	return &Signal{Kind: SignalStopScenario}
}

// StopUser builds a fatal stop signal wrapping cause.
func StopUser(cause error) *Signal {
	return &Signal{Kind: SignalStopUser, Cause: cause}
}

// RescheduleNow builds the no-wait pass-through signal.
func RescheduleNow() *Signal {
	return &Signal{Kind: SignalRescheduleNow, Reschedule: true}
}

// RescheduleAfterWait builds the after-wait pass-through signal.
func RescheduleAfterWait() *Signal {
	return &Signal{Kind: SignalRescheduleAfterWait, Reschedule: true}
}

// AsSignal extracts a Signal from err's chain.
func AsSignal(err error) (*Signal, bool) {
	var sig *Signal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}

// IsGracefulStop reports whether err represents the normal end of a
// bounded scenario: a StopScenario signal, possibly wrapped in the
// fatal StopUser the scheduler exits with.
func IsGracefulStop(err error) bool {
	sig, ok := AsSignal(err)
	if !ok {
		return false
	}
	if sig.Kind == SignalStopScenario {
		return true
	}
	if sig.Kind == SignalStopUser {
		if sig.Cause == nil {
			// The drain exit carries no cause; every genuine fatal
			// stop wraps one.
			return true
		}
		if inner, ok := AsSignal(sig.Cause); ok {
			return inner.Kind == SignalStopScenario
		}
	}
	return false
}
