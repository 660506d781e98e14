package scenario

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the lifecycle state of a scenario instance.
type State int32

const (
	// StateRunning indicates the scheduler is dispatching iterations.
	StateRunning State = iota
	// StateStopping indicates a drain was requested; the current
	// iteration is allowed to finish.
	StateStopping
	// StateStopped is terminal for the run.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// maxTaskRetries is the local retry budget for a single task.
	// After this many consecutive RetryTask signals the scheduler
	// falls through to the default policy escalation.
	maxTaskRetries = 3

	// DefaultRestartBudget is the iteration-restart allowance used
	// when neither an explicit override nor a fixed actor count is
	// available to derive one. A policy constant, not a derived value.
	DefaultRestartBudget = 3
)

// Config carries everything a Scheduler needs at construction. The
// task list is the caller's user tasks only: the scheduler inserts the
// iteration gate first and, when PacingTarget is set, the pace task
// last.
type Config struct {
	// ScenarioID names the scenario in logs and statistics.
	ScenarioID string

	// Tasks are the user tasks, in declared order.
	Tasks []*Task

	// Testdata supplies per-iteration variable bindings. Required.
	Testdata TestdataSource

	// Gate is the process-wide spawn-completion barrier. Optional.
	Gate SpawnGate

	// Stats receives statistics records. Nil means discard.
	Stats StatisticsSink

	// Policy maps unrecoverable failures to escalations. Optional.
	Policy FailurePolicy

	// WaitTime returns the inter-task delay. Nil or zero means none.
	WaitTime func() time.Duration

	// PacingTarget is the iteration pacing target in milliseconds. It
	// may contain {{var}} placeholders and is re-evaluated every
	// iteration. Empty disables the pace task.
	PacingTarget string

	// SpawnWaitTimeout bounds the one-time wait on Gate before real
	// work begins. Zero skips the wait; negative waits indefinitely.
	SpawnWaitTimeout time.Duration

	// TotalIterations and FixedUserCount, when both set, derive the
	// iteration-restart budget as ceil(TotalIterations/FixedUserCount).
	TotalIterations int
	FixedUserCount  int

	// TolerateErrors keeps the scheduler running after a plain task
	// failure that no policy entry matches.
	TolerateErrors bool

	// Prefetch fetches the first iteration's testdata before normal
	// dispatch begins, overlapping start-of-scenario work with the
	// first fetch.
	Prefetch bool

	// OnIteration is invoked by the iteration gate before each
	// testdata fetch.
	OnIteration func(ctx context.Context, a *Actor) error

	// Sleep overrides the suspension primitive. Nil uses a real,
	// context-aware sleep. Tests inject a recorder here.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger for scheduler events. Zero value discards.
	Logger zerolog.Logger
}

// invocation is one scheduled run of a task. The queue normally holds
// exactly one; a retry re-queues the same invocation at the front.
type invocation struct {
	task *Task
}

// iterationCursor maps the monotonically increasing task counter onto
// task-list positions. Retry rewinds it by one, restarts advance it to
// the next multiple of taskCount, so "task N of taskCount" reporting
// and rewinding share one counter.
type iterationCursor struct {
	index     int
	taskCount int
}

// pos is the task-list position the cursor currently addresses.
func (c iterationCursor) pos() int { return c.index % c.taskCount }

// Scheduler drives one actor through iterations of its task list,
// enforcing retry, restart, pacing, and stop policies. Each actor owns
// exactly one Scheduler; none of its state is shared across actors.
type Scheduler struct {
	actor *Actor
	cfg   Config

	tasks  []*Task
	queue  []invocation
	cursor iterationCursor

	state atomic.Int32
	gate  *iterationGate

	retries   int
	restarted int

	// iterStartedAt is set by the iteration gate when an iteration
	// begins and cleared by IterationStop.
	iterStartedAt time.Time

	stats StatisticsSink
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

// NewScheduler builds a scheduler for actor. The effective task list
// is: iteration gate, cfg.Tasks in order, then the pace task when
// cfg.PacingTarget is set.
func NewScheduler(actor *Actor, cfg Config) *Scheduler {
	stats := cfg.Stats
	if stats == nil {
		stats = NopSink{}
	}
	s := &Scheduler{
		actor: actor,
		cfg:   cfg,
		stats: stats,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(actor.ID)<<16)),
		sleep: cfg.Sleep,
		log:   cfg.Logger.With().Str("scenario", cfg.ScenarioID).Int("actor", actor.ID).Logger(),
	}
	if s.sleep == nil {
		s.sleep = realSleep
	}

	s.gate = &iterationGate{
		source:      cfg.Testdata,
		spawnWait:   cfg.SpawnWaitTimeout,
		onIteration: cfg.OnIteration,
	}

	tasks := make([]*Task, 0, len(cfg.Tasks)+2)
	tasks = append(tasks, s.gate.task(s))
	tasks = append(tasks, cfg.Tasks...)
	if cfg.PacingTarget != "" {
		tasks = append(tasks, newPaceTask(s, cfg.PacingTarget))
	}
	s.tasks = tasks
	s.cursor = iterationCursor{taskCount: len(tasks)}
	return s
}

// State returns the current scenario state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Drain requests a graceful stop: the current iteration finishes, then
// the scheduler exits with a fatal stop. Safe to call from another
// goroutine.
func (s *Scheduler) Drain() {
	s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Run is the scheduler entry point. It never returns nil: the run
// always exits via a fatal stop-user signal or an unrecoverable error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Int("tasks", len(s.tasks)).Msg("scenario starting")

	if err := s.runStartHooks(ctx); err != nil {
		s.log.Error().Err(err).Msg("on-start hook failed")
		s.runStopHooks(ctx)
		return err
	}

	if s.cfg.Prefetch {
		if err := s.gate.run(ctx, s, s.actor, true); err != nil {
			if term := s.handleFailure(ctx, invocation{task: s.tasks[0]}, err); term != nil {
				return term
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			// Unexpected terminal cancellation.
			return s.terminate(ctx, err)
		}

		idx := s.cursor.pos()
		if len(s.queue) == 0 {
			s.queue = append(s.queue, invocation{task: s.tasks[idx]})
		}

		st := s.State()
		if st == StateStopped || (st == StateStopping && idx == 0) {
			// Iteration boundary reached while draining.
			s.setState(StateStopped)
			s.IterationStop(nil)
			s.runStopHooks(ctx)
			s.log.Info().Msg("scenario drained")
			return &Signal{Kind: SignalStopUser}
		}

		inv := s.queue[0]
		s.queue = s.queue[1:]
		s.cursor.index++

		err := s.execute(ctx, inv)
		if err == nil {
			s.retries = 0
			s.wait(ctx)
			continue
		}
		if term := s.handleFailure(ctx, inv, err); term != nil {
			return term
		}
	}
}

// execute runs one scheduled invocation, applying the task timeout.
func (s *Scheduler) execute(ctx context.Context, inv invocation) error {
	runCtx := ctx
	if inv.task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.task.Timeout)
		defer cancel()
	}
	return inv.task.Run(runCtx, s.actor)
}

// handleFailure routes a task failure. A nil return means the loop
// continues; a non-nil return is the scheduler's terminal error.
func (s *Scheduler) handleFailure(ctx context.Context, inv invocation, err error) error {
	if sig, ok := AsSignal(err); ok {
		return s.handleSignal(ctx, inv, sig)
	}

	// Plain failure: consult the policy first.
	if s.cfg.Policy != nil {
		if esc, found := s.cfg.Policy.Lookup(err); found {
			s.log.Warn().Err(err).Str("task", inv.task.Name).
				Stringer("escalation", esc).Msg("task failed, applying policy escalation")
			return s.escalate(ctx, inv, esc, err)
		}
	}

	s.recordError(inv.task, err)
	if s.cfg.TolerateErrors {
		s.log.Warn().Err(err).Str("task", inv.task.Name).Msg("task failed, continuing")
		s.wait(ctx)
		return nil
	}
	s.log.Error().Err(err).Str("task", inv.task.Name).Msg("task failed")
	s.runStopHooks(ctx)
	return err
}

// handleSignal applies one control signal. Same return contract as
// handleFailure.
func (s *Scheduler) handleSignal(ctx context.Context, inv invocation, sig *Signal) error {
	switch sig.Kind {
	case SignalRescheduleNow:
		// Host-owned pass-through: re-enter dispatch without a wait.
		return nil

	case SignalRescheduleAfterWait:
		s.wait(ctx)
		return nil

	case SignalRetryTask:
		return s.retryTask(ctx, inv, sig)

	case SignalRestartIteration, SignalRestartScenario:
		return s.restart(ctx, sig)

	case SignalStopScenario, SignalStopUser:
		if s.State() != StateStopping {
			return s.terminate(ctx, sig)
		}
		s.wait(ctx)
		return nil

	default:
		return s.terminate(ctx, fmt.Errorf("unhandled signal %s", sig.Kind))
	}
}

// retryTask performs the bounded local retry: sleep attempt*U(1,5)
// seconds, rewind the cursor by one, and re-queue the same invocation.
// Once the budget is spent it falls through to the default policy
// escalation.
func (s *Scheduler) retryTask(ctx context.Context, inv invocation, sig *Signal) error {
	s.retries++
	if s.retries > maxTaskRetries {
		s.retries = 0
		s.log.Warn().Str("task", inv.task.Name).Err(sig.Cause).
			Msgf("task retry budget exhausted after %d attempts", maxTaskRetries)
		esc, found := EscalateNone, false
		if s.cfg.Policy != nil {
			esc, found = s.cfg.Policy.Lookup(nil)
		}
		if !found {
			s.recordError(inv.task, sig)
			s.wait(ctx)
			return nil
		}
		return s.escalate(ctx, inv, esc, sig)
	}

	delay := time.Duration(float64(s.retries) * (1 + 4*s.rng.Float64()) * float64(time.Second))
	s.log.Info().Str("task", inv.task.Name).Dur("backoff", delay).
		Msgf("%s retry of task %s", ordinal(s.retries), inv.task.Name)
	if err := s.sleep(ctx, delay); err != nil {
		return s.terminate(ctx, err)
	}
	if s.cursor.index > 0 {
		s.cursor.index--
	}
	s.queue = append([]invocation{inv}, s.queue...)
	return nil
}

// escalate converts a policy escalation into the matching signal
// handling.
func (s *Scheduler) escalate(ctx context.Context, inv invocation, esc Escalation, cause error) error {
	switch esc {
	case EscalateRetry:
		return s.handleSignal(ctx, inv, &Signal{Kind: SignalRetryTask, Cause: cause})
	case EscalateRestartIteration:
		return s.restart(ctx, &Signal{Kind: SignalRestartIteration, Cause: cause})
	case EscalateRestartScenario:
		return s.restart(ctx, &Signal{Kind: SignalRestartScenario, Cause: cause})
	case EscalateStopUser:
		return s.terminate(ctx, &Signal{Kind: SignalStopUser, Cause: cause})
	default:
		s.recordError(inv.task, cause)
		s.wait(ctx)
		return nil
	}
}

// restart rewinds to the start of the next task-list cycle, clearing
// the queue. The restart budget is recomputed per event; exceeding it
// escalates to a fatal stop.
func (s *Scheduler) restart(ctx context.Context, sig *Signal) error {
	allowed := s.restartBudget(sig)
	s.restarted++
	if s.restarted >= allowed {
		s.log.Error().Int("restarts", s.restarted).Int("allowed", allowed).
			Msg("iteration restart budget exhausted")
		return s.terminate(ctx, &Signal{Kind: SignalStopUser, Cause: sig})
	}

	s.log.Warn().Err(sig.Cause).Msgf("%s restart of scenario %s (%s)",
		ordinal(s.restarted), s.cfg.ScenarioID, sig.Kind)

	// Account for the failed iteration before the cursor moves.
	s.IterationStop(sig)

	s.cursor.index += s.cursor.taskCount - s.cursor.pos()
	s.queue = nil
	s.retries = 0

	// A default-budget iteration restart reruns with the same
	// bindings; an explicit override (and any scenario restart)
	// fetches fresh data.
	if sig.Kind == SignalRestartIteration && sig.MaxRestarts <= 0 {
		s.gate.reusePending()
	}

	s.wait(ctx)
	return nil
}

// restartBudget computes the allowance for this restart event.
func (s *Scheduler) restartBudget(sig *Signal) int {
	if sig.Kind == SignalRestartIteration && sig.MaxRestarts > 0 {
		return sig.MaxRestarts
	}
	if s.cfg.TotalIterations > 0 && s.cfg.FixedUserCount > 0 {
		return int(math.Ceil(float64(s.cfg.TotalIterations) / float64(s.cfg.FixedUserCount)))
	}
	return DefaultRestartBudget
}

// terminate is the single fatal exit path: account for the iteration,
// run on-stop hooks, block until spawning completed (so the host does
// not spawn a replacement prematurely), and surface a fatal stop.
func (s *Scheduler) terminate(ctx context.Context, cause error) error {
	s.log.Error().Err(cause).Msg("scenario terminating")

	s.IterationStop(cause)
	s.runStopHooks(ctx)

	if s.cfg.Gate != nil {
		s.cfg.Gate.Wait(ctx, -1)
	}
	s.setState(StateStopped)

	if sig, ok := AsSignal(cause); ok && sig.Kind == SignalStopUser {
		return sig
	}
	return &Signal{Kind: SignalStopUser, Cause: cause}
}

// wait applies the inter-task delay, with drain handling: while
// STOPPING mid-iteration it yields without sleeping so the iteration
// can finish; at the last task it transitions to STOPPED.
func (s *Scheduler) wait(ctx context.Context) {
	if s.State() == StateStopping {
		if s.lastPos() != s.cursor.taskCount-1 {
			runtime.Gosched()
			return
		}
		s.setState(StateStopped)
		return
	}
	if s.cfg.WaitTime == nil {
		return
	}
	if d := s.cfg.WaitTime(); d > 0 {
		_ = s.sleep(ctx, d)
	}
}

// lastPos is the task-list position of the most recently executed
// task.
func (s *Scheduler) lastPos() int {
	if s.cursor.index == 0 {
		return 0
	}
	return (s.cursor.index - 1) % s.cursor.taskCount
}

// completedTasks is the 1-based count of tasks completed in the
// iteration being closed out. When the last dispatched task is the
// gate, the boundary belongs to a fully completed previous iteration.
func (s *Scheduler) completedTasks() int64 {
	if s.cursor.index == 0 {
		return 0
	}
	pos := s.lastPos()
	if pos == 0 {
		return int64(s.cursor.taskCount)
	}
	return int64(pos) + 1
}

// IterationStop accounts for an iteration boundary. It is invoked by
// the iteration gate on every fetch, by restarts, and by the terminal
// path; the hosting wrapper may also call it when an iteration is
// aborted externally. A cleared start timestamp makes it a no-op, so
// repeated calls are safe.
//
// A StopScenario cause skips the success statistic (the iteration did
// not complete normally) but still emits the failure record below, so
// a mid-iteration graceful stop stays visible.
func (s *Scheduler) IterationStop(cause error) {
	if s.iterStartedAt.IsZero() {
		return
	}
	elapsed := time.Since(s.iterStartedAt)
	s.iterStartedAt = time.Time{}

	completed := s.completedTasks()
	stopScenario := false
	if sig, ok := AsSignal(cause); ok && sig.Kind == SignalStopScenario {
		stopScenario = true
	}
	if !stopScenario {
		s.stats.Record(Sample{
			Kind:     KindScenario,
			Name:     s.cfg.ScenarioID,
			Duration: elapsed,
			Size:     completed,
		})
	}
	if cause != nil {
		s.stats.Record(Sample{
			Kind:     KindScenario,
			Name:     s.cfg.ScenarioID,
			Duration: elapsed,
			Size:     completed,
			Failure:  cause,
		})
	}
}

// recordError emits the single user-visible statistics record for a
// failure that was not retried or escalated.
func (s *Scheduler) recordError(task *Task, err error) {
	s.stats.Record(Sample{
		Kind:    KindScenario,
		Name:    s.cfg.ScenarioID,
		Context: map[string]string{"task": task.Name},
		Failure: err,
	})
}

func (s *Scheduler) runStartHooks(ctx context.Context) error {
	for _, t := range s.tasks {
		if t.OnStart == nil {
			continue
		}
		if err := t.OnStart(ctx, s.actor); err != nil {
			return fmt.Errorf("on-start hook of task %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) runStopHooks(ctx context.Context) {
	for _, t := range s.tasks {
		if t.OnStop == nil {
			continue
		}
		if err := t.OnStop(ctx, s.actor); err != nil {
			s.log.Warn().Err(err).Str("task", t.Name).Msg("on-stop hook failed")
		}
	}
}

// realSleep is a context-aware sleep; the only involuntary wakeup is
// cancellation.
func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ordinal renders 1 -> "1st", 2 -> "2nd", etc. for retry and restart
// log messages.
func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
