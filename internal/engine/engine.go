// Package engine hosts scenario schedulers for a run: it spawns the
// configured actors, signals the spawn-completion gate once all of
// them have started, and aggregates results.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stridekit/stride/internal/config"
	"github.com/stridekit/stride/internal/httptask"
	"github.com/stridekit/stride/internal/scenario"
	"github.com/stridekit/stride/internal/stats"
	"github.com/stridekit/stride/internal/testdata"
)

// Options override the config-derived wiring, mainly for the DSL front
// end and for tests: a caller can hand a scenario its task list or
// testdata source directly instead of going through the config file.
type Options struct {
	// Tasks replaces the HTTP tasks built from a scenario's requests.
	Tasks map[string][]*scenario.Task

	// Sources replaces the testdata source built from a scenario's
	// testdata file.
	Sources map[string]scenario.TestdataSource

	// Sleep overrides the schedulers' suspension primitive in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine runs every scenario of a RunConfig to completion.
type Engine struct {
	cfg  *config.RunConfig
	opts Options
	log  zerolog.Logger

	statsEngine *stats.Engine
	gate        *scenario.Barrier

	mu         sync.Mutex
	schedulers []*scenario.Scheduler
	draining   bool
}

// ActorResult is the exit record of one actor.
type ActorResult struct {
	Scenario string
	ActorID  int
	Err      error // nil when the actor ended gracefully
}

// Result is the outcome of a run.
type Result struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Actors   []ActorResult
	Stats    *stats.Snapshot
}

// New creates an engine for cfg.
func New(cfg *config.RunConfig, logger zerolog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:         cfg,
		opts:        opts,
		log:         logger,
		statsEngine: stats.NewEngine(),
		gate:        scenario.NewBarrier(),
	}
}

// Stats returns the engine's statistics sink, for callers that record
// their own samples.
func (e *Engine) Stats() *stats.Engine { return e.statsEngine }

// Drain requests a graceful stop of every running scheduler: current
// iterations finish, then the actors retire.
func (e *Engine) Drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = true
	for _, s := range e.schedulers {
		s.Drain()
	}
}

// register tracks a scheduler so Drain can reach it. A drain requested
// before registration still applies.
func (e *Engine) register(sched *scenario.Scheduler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedulers = append(e.schedulers, sched)
	if e.draining {
		sched.Drain()
	}
}

// Run executes all scenarios concurrently and blocks until every actor
// has exited. It returns the aggregated result; the error is non-nil
// only when an actor ended with something other than a graceful stop.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	e.log.Info().Str("run", e.cfg.Name).Int("scenarios", len(e.cfg.Scenarios)).Msg("run starting")

	var (
		exitsMu sync.Mutex
		exits   []ActorResult
	)

	g, runCtx := errgroup.WithContext(ctx)

	for name, sc := range e.cfg.Scenarios {
		source, err := e.buildSource(name, sc)
		if err != nil {
			return nil, err
		}
		tasks := e.buildTasks(name, sc)
		policy := sc.Policy()

		for i := 0; i < sc.Users; i++ {
			actor := scenario.NewActor(i+1, name, e.statsEngine, e.log)
			seedVariables(actor, e.cfg.Variables, sc.Variables)

			sched := scenario.NewScheduler(actor, scenario.Config{
				ScenarioID:       name,
				Tasks:            tasks,
				Testdata:         source,
				Gate:             e.gate,
				Stats:            e.statsEngine,
				Policy:           policy,
				PacingTarget:     sc.Pacing,
				WaitTime:         waitTime(sc.ThinkTime.Std()),
				SpawnWaitTimeout: sc.SpawnWaitTimeout.Std(),
				TotalIterations:  sc.Iterations,
				FixedUserCount:   sc.Users,
				TolerateErrors:   sc.TolerateErrors,
				Prefetch:         sc.Prefetch,
				Sleep:            e.opts.Sleep,
				Logger:           e.log,
			})

			e.register(sched)

			scenarioName, actorID := name, i+1
			g.Go(func() error {
				err := sched.Run(runCtx)
				graceful := scenario.IsGracefulStop(err)
				exitsMu.Lock()
				if graceful {
					exits = append(exits, ActorResult{Scenario: scenarioName, ActorID: actorID})
				} else {
					exits = append(exits, ActorResult{Scenario: scenarioName, ActorID: actorID, Err: err})
				}
				exitsMu.Unlock()
				if graceful {
					return nil
				}
				return fmt.Errorf("scenario %s actor %d: %w", scenarioName, actorID, err)
			})
		}
	}

	// Every actor goroutine is launched; open the gate.
	e.gate.Signal()

	runErr := g.Wait()

	result := &Result{
		Name:     e.cfg.Name,
		Started:  started,
		Duration: time.Since(started),
		Actors:   exits,
		Stats:    e.statsEngine.Snapshot(),
	}
	e.log.Info().Dur("duration", result.Duration).
		Int64("samples", result.Stats.Total).
		Int64("failed", result.Stats.Failed).
		Msg("run finished")
	return result, runErr
}

// buildSource wires the testdata source for a scenario: an explicit
// override, a JSON-lines file, or a repeating source over the scenario
// variables. An iteration bound wraps whichever source applies.
func (e *Engine) buildSource(name string, sc *config.ScenarioConfig) (scenario.TestdataSource, error) {
	var source scenario.TestdataSource
	if override, ok := e.opts.Sources[name]; ok {
		source = override
	} else if sc.Testdata != "" {
		loaded, err := testdata.LoadJSONLines(sc.Testdata)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		source = loaded
	} else {
		source = testdata.Repeat{}
	}
	if sc.Iterations > 0 {
		source = testdata.Limit(source, sc.Iterations)
	}
	return source, nil
}

// buildTasks wires the task list for a scenario: an explicit override
// or HTTP tasks from the request list. All actors of a scenario share
// one HTTP client.
func (e *Engine) buildTasks(name string, sc *config.ScenarioConfig) []*scenario.Task {
	if override, ok := e.opts.Tasks[name]; ok {
		return override
	}
	client := httptask.NewClient(httptask.DefaultClientConfig())
	tasks := make([]*scenario.Task, 0, len(sc.Requests))
	for _, req := range sc.Requests {
		tasks = append(tasks, httptask.New(httptask.Config{
			Name:    req.Name,
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
			Timeout: req.Timeout.Std(),
		}, client))
	}
	return tasks
}

func seedVariables(actor *scenario.Actor, global, local map[string]string) {
	for k, v := range global {
		actor.SetVar(k, v)
	}
	for k, v := range local {
		actor.SetVar(k, v)
	}
}

func waitTime(d time.Duration) func() time.Duration {
	if d <= 0 {
		return nil
	}
	return func() time.Duration { return d }
}
