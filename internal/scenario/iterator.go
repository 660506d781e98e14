package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSpawnWaitTimeout is recorded when the spawn-completion gate did
// not open within the configured timeout.
var ErrSpawnWaitTimeout = errors.New("spawn-completion wait timed out")

// iterationGate is the task that runs first in every iteration. It
// pulls the iteration's variable bindings from the testdata source,
// accounts for the previous iteration, and blocks once per scenario
// instance on the spawn-completion gate.
type iterationGate struct {
	source      TestdataSource
	spawnWait   time.Duration
	onIteration func(ctx context.Context, a *Actor) error

	// pending holds prefetched bindings consumed by the next run.
	pending VariableBindings
	// current holds the bindings applied to the running iteration, so
	// an iteration restart can re-arm them.
	current VariableBindings

	hasWaited bool
}

// task wraps the gate as the scheduler's first task.
func (g *iterationGate) task(s *Scheduler) *Task {
	return &Task{
		Name: "iterator",
		Run: func(ctx context.Context, a *Actor) error {
			return g.run(ctx, s, a, false)
		},
	}
}

func (g *iterationGate) run(ctx context.Context, s *Scheduler, a *Actor, prefetchMode bool) error {
	if !prefetchMode && g.pending != nil {
		bindings := g.pending
		g.pending = nil
		g.apply(s, a, bindings)
		g.waitForSpawning(ctx, s)
		return nil
	}

	if g.onIteration != nil {
		if err := g.onIteration(ctx, a); err != nil {
			return err
		}
	}

	start := time.Now()
	bindings, err := g.source.Next(ctx, s.cfg.ScenarioID)
	if err != nil {
		s.stats.Record(Sample{
			Kind:     KindTestdata,
			Name:     s.cfg.ScenarioID,
			Duration: time.Since(start),
			Failure:  err,
		})
		return err
	}
	if bindings == nil {
		// Out of data: the sole normal termination path for a
		// bounded-iteration scenario. Close out the final iteration
		// here; the terminal path's IterationStop becomes a no-op.
		s.IterationStop(nil)
		return &Signal{Kind: SignalStopScenario}
	}

	s.stats.Record(Sample{
		Kind:     KindTestdata,
		Name:     s.cfg.ScenarioID,
		Duration: time.Since(start),
		Size:     serializedLen(bindings),
	})

	if prefetchMode {
		g.pending = bindings
		return nil
	}

	// Previous iteration's total duration; no-op on the very first
	// call, when no start timestamp is set.
	s.IterationStop(nil)

	g.apply(s, a, bindings)
	g.waitForSpawning(ctx, s)
	return nil
}

// apply merges the bindings into the actor's variable context and
// starts the iteration clock.
func (g *iterationGate) apply(s *Scheduler, a *Actor, bindings VariableBindings) {
	a.MergeVars(bindings)
	g.current = bindings
	s.iterStartedAt = time.Now()
}

// reusePending re-arms the current iteration's bindings so the next
// gate run consumes them instead of fetching.
func (g *iterationGate) reusePending() {
	if g.current != nil {
		g.pending = g.current
	}
}

// waitForSpawning blocks, at most once per scenario instance, until
// all target actors have started. The wait itself is recorded so slow
// spawns stay visible.
func (g *iterationGate) waitForSpawning(ctx context.Context, s *Scheduler) {
	if g.hasWaited || g.spawnWait == 0 || s.cfg.Gate == nil {
		return
	}
	g.hasWaited = true

	start := time.Now()
	ok := s.cfg.Gate.Wait(ctx, g.spawnWait)
	var failure error
	if !ok {
		failure = ErrSpawnWaitTimeout
	}
	s.stats.Record(Sample{
		Kind:     KindSpawnWait,
		Name:     s.cfg.ScenarioID,
		Duration: time.Since(start),
		Failure:  failure,
	})
}

// serializedLen reports the JSON byte length of the bindings, the size
// recorded for a testdata fetch.
func serializedLen(bindings VariableBindings) int64 {
	raw, err := json.Marshal(bindings)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}
