package scenario

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// newPaceTask builds the task that runs last in every iteration when a
// pacing target is configured. The target is a millisecond value,
// possibly templated, re-evaluated on every invocation.
//
// Exactly one PACE statistic is emitted per invocation, even when the
// target is misconfigured, so pacing visibility is never lost.
func newPaceTask(s *Scheduler, target string) *Task {
	return &Task{
		Name: "pace",
		Run: func(ctx context.Context, a *Actor) error {
			return s.runPace(ctx, a, target)
		},
	}
}

func (s *Scheduler) runPace(ctx context.Context, a *Actor, target string) error {
	rendered := strings.TrimSpace(a.ResolveVars(target))
	ms, err := strconv.ParseFloat(rendered, 64)
	if err != nil {
		parseErr := fmt.Errorf("pacing target %q is not a number: %w", rendered, err)
		s.stats.Record(Sample{
			Kind:    KindPace,
			Name:    s.cfg.ScenarioID,
			Failure: parseErr,
		})
		return &Signal{Kind: SignalStopUser, Cause: parseErr}
	}

	targetDur := time.Duration(ms * float64(time.Millisecond))
	elapsed := time.Since(s.iterStartedAt)

	if elapsed >= targetDur {
		// Retrying cannot reduce elapsed time, so an overrun is fatal.
		overrun := fmt.Errorf("iteration took %s, pacing target is %s", elapsed, targetDur)
		s.stats.Record(Sample{
			Kind:     KindPace,
			Name:     s.cfg.ScenarioID,
			Duration: elapsed,
			Size:     0,
			Failure:  overrun,
		})
		return &Signal{Kind: SignalStopUser, Cause: overrun}
	}

	if err := s.sleep(ctx, targetDur-elapsed); err != nil {
		s.stats.Record(Sample{
			Kind:     KindPace,
			Name:     s.cfg.ScenarioID,
			Duration: elapsed,
			Failure:  err,
		})
		return err
	}
	s.stats.Record(Sample{
		Kind:     KindPace,
		Name:     s.cfg.ScenarioID,
		Duration: elapsed,
		Size:     1,
	})
	return nil
}
