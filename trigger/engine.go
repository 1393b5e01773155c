package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/ledger"
	"go.uber.org/zap"
)

// armed is a live trigger: a schedule snapshot plus its next fire time as
// tracked by the engine.
type armed struct {
	sched *Schedule
	next  time.Time
}

type task struct {
	sched   Schedule
	firedAt time.Time
}

// Engine owns the live trigger registry. It evaluates every armed schedule
// once per tick in a single configured location and hands due fires to a
// bounded pool of dispatch workers. Per-schedule timezones are recorded but
// not consulted here.
type Engine struct {
	store  *Store
	runner *Runner
	loc    *time.Location
	log    *zap.SugaredLogger

	tickInterval time.Duration
	drainTimeout time.Duration
	workers      int

	mu    sync.Mutex
	reg   map[int64]*armed
	tasks chan task

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup

	// jobsCtx outlives loopCtx so in-flight runs can drain; cancelling it
	// is the hard-kill path at the end of shutdown.
	jobsCtx    context.Context
	jobsCancel context.CancelFunc
	manualWG   sync.WaitGroup

	started bool
}

func NewEngine(cfg *config.Config, store *Store, runner *Runner, log *zap.SugaredLogger) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Trigger.Timezone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "unknown engine timezone %q", cfg.Trigger.Timezone)
	}
	workers := cfg.Trigger.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		store:        store,
		runner:       runner,
		loc:          loc,
		log:          log,
		tickInterval: time.Duration(cfg.Trigger.TickIntervalSeconds) * time.Second,
		drainTimeout: time.Duration(cfg.Trigger.DrainTimeoutSeconds) * time.Second,
		workers:      workers,
		reg:          map[int64]*armed{},
		tasks:        make(chan task, workers*4),
	}, nil
}

// Start arms every enabled schedule and begins ticking. Fires that came due
// while the engine was down are handled by the first tick under the normal
// misfire rules, because the persisted next fire time is used as-is.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.loopCtx, e.loopCancel = context.WithCancel(context.Background())
	e.jobsCtx, e.jobsCancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	schedules, err := e.store.ListEnabled()
	if err != nil {
		return errors.Wrap(err, "load enabled schedules")
	}
	for _, sched := range schedules {
		if err := e.Arm(sched); err != nil {
			e.log.Errorw("failed to arm schedule at startup",
				"schedule", sched.ID, "error", err)
		}
	}

	for i := 0; i < e.workers; i++ {
		e.loopWG.Add(1)
		go e.worker()
	}
	e.loopWG.Add(1)
	go e.loop()

	e.log.Infow("trigger engine started",
		"schedules", len(schedules), "workers", e.workers, "timezone", e.loc.String())
	return nil
}

func (e *Engine) loop() {
	defer e.loopWG.Done()
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.loopCtx.Done():
			return
		case now := <-ticker.C:
			e.tick(now.In(e.loc))
		}
	}
}

func (e *Engine) worker() {
	defer e.loopWG.Done()
	for {
		select {
		case <-e.loopCtx.Done():
			return
		case t := <-e.tasks:
			select {
			case <-e.loopCtx.Done():
				return
			default:
			}
			e.dispatch(t)
		}
	}
}

// tick evaluates every armed trigger against now. For a trigger behind
// schedule it walks the missed occurrences one by one: occurrences older
// than the misfire grace are dropped, coalescing collapses the survivors
// into a single fire.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	due := make([]*armed, 0)
	for _, at := range e.reg {
		if !at.next.After(now) {
			due = append(due, at)
		}
	}
	e.mu.Unlock()

	for _, at := range due {
		e.fire(at, now)
	}
}

func (e *Engine) fire(at *armed, now time.Time) {
	sched := at.sched
	grace := time.Duration(sched.MisfireGraceSeconds) * time.Second

	fires, dropped := 0, 0
	next := at.next
	for !next.After(now) {
		if grace > 0 && now.Sub(next) > grace {
			dropped++
		} else {
			fires++
		}
		n, err := sched.nextAfter(next, e.loc)
		if err != nil {
			e.log.Errorw("cannot advance schedule, disarming",
				"schedule", sched.ID, "error", err)
			e.Disarm(sched.ID)
			return
		}
		next = n
	}
	if sched.Coalesce && fires > 1 {
		dropped += fires - 1
		fires = 1
	}

	if dropped > 0 {
		e.log.Warnw("dropped missed fires",
			"schedule", sched.ID, "dropped", dropped, "grace", grace)
	}

	for i := 0; i < fires; i++ {
		select {
		case e.tasks <- task{sched: *sched, firedAt: now}:
		default:
			e.log.Warnw("dispatch queue full, dropping fire", "schedule", sched.ID)
			fires = i
		}
	}

	e.mu.Lock()
	if cur, ok := e.reg[sched.ID]; ok && cur == at {
		at.next = next
	}
	e.mu.Unlock()

	var err error
	if fires > 0 {
		err = e.store.RecordRun(sched.ID, now, next)
	} else {
		err = e.store.SetNextRun(sched.ID, next)
	}
	if err != nil {
		e.log.Errorw("failed to persist schedule bookkeeping",
			"schedule", sched.ID, "error", err)
	}
}

func (e *Engine) dispatch(t task) {
	detail := fmt.Sprintf("schedule:%d", t.sched.ID)
	exec, w, err := e.runner.Begin(t.sched.WorkloadID, ledger.TriggerScheduled, detail)
	if err != nil {
		e.log.Warnw("scheduled fire not dispatched",
			"schedule", t.sched.ID, "workload", t.sched.WorkloadID, "error", err)
		return
	}
	timeout := time.Duration(t.sched.TimeoutSeconds) * time.Second
	e.runner.Execute(e.jobsCtx, exec, w, timeout)
}

// Arm registers (or replaces) a live trigger for the schedule. The next
// fire time comes from the persisted value when present, so downtime shows
// up as lateness; otherwise it is computed fresh and persisted.
func (e *Engine) Arm(sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	var next time.Time
	if sched.NextRunAt != nil {
		next = sched.NextRunAt.In(e.loc)
	} else {
		n, err := sched.nextAfter(time.Now().In(e.loc), e.loc)
		if err != nil {
			return err
		}
		next = n
		if err := e.store.SetNextRun(sched.ID, next); err != nil {
			e.log.Warnw("failed to persist next run", "schedule", sched.ID, "error", err)
		}
	}

	e.mu.Lock()
	e.reg[sched.ID] = &armed{sched: sched, next: next}
	e.mu.Unlock()

	e.log.Debugw("armed schedule", "schedule", sched.ID, "next", next)
	return nil
}

// Disarm removes the live trigger. Unknown ids are a no-op.
func (e *Engine) Disarm(scheduleID int64) {
	e.mu.Lock()
	delete(e.reg, scheduleID)
	e.mu.Unlock()
}

// ArmWorkload arms every enabled schedule of a workload.
func (e *Engine) ArmWorkload(workloadID int64) error {
	schedules, err := e.store.ListByWorkload(workloadID)
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if !sched.IsEnabled {
			continue
		}
		if err := e.Arm(sched); err != nil {
			return err
		}
	}
	return nil
}

// DisarmWorkload removes every live trigger belonging to a workload.
func (e *Engine) DisarmWorkload(workloadID int64) {
	e.mu.Lock()
	for id, at := range e.reg {
		if at.sched.WorkloadID == workloadID {
			delete(e.reg, id)
		}
	}
	e.mu.Unlock()
}

// Pause disables a schedule and disarms it; the row survives.
func (e *Engine) Pause(scheduleID int64) error {
	if err := e.store.SetEnabled(scheduleID, false); err != nil {
		return err
	}
	e.Disarm(scheduleID)
	return nil
}

// Resume re-enables a paused schedule and arms it fresh from now, so time
// spent paused never counts as a misfire.
func (e *Engine) Resume(scheduleID int64) error {
	if err := e.store.SetEnabled(scheduleID, true); err != nil {
		return err
	}
	sched, err := e.store.Get(scheduleID)
	if err != nil {
		return err
	}
	sched.NextRunAt = nil
	return e.Arm(sched)
}

// Armed reports whether a live trigger exists for the schedule.
func (e *Engine) Armed(scheduleID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.reg[scheduleID]
	return ok
}

// RunNow triggers an immediate execution outside any schedule. The Pending
// execution is recorded synchronously and its id returned; the run itself
// proceeds in the background with no timeout.
func (e *Engine) RunNow(workloadID int64) (string, error) {
	exec, w, err := e.runner.Begin(workloadID, ledger.TriggerManual, "manual")
	if err != nil {
		return "", err
	}

	ctx := context.Background()
	e.mu.Lock()
	if e.started {
		ctx = e.jobsCtx
	}
	e.mu.Unlock()

	e.manualWG.Add(1)
	go func() {
		defer e.manualWG.Done()
		e.runner.Execute(ctx, exec, w, 0)
	}()
	return exec.ID, nil
}

// Stop shuts the engine down: ticking stops immediately, in-flight runs get
// up to the drain timeout to finish, and whatever remains is killed and
// recorded as cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	e.loopCancel()

	done := make(chan struct{})
	go func() {
		e.loopWG.Wait()
		e.manualWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.drainTimeout):
		e.log.Warnw("drain timeout reached, cancelling in-flight executions")
		e.jobsCancel()
		<-done
	}
	e.jobsCancel()
	e.log.Infow("trigger engine stopped")
}
