// Package scheduler drives a task pool. One goroutine owns the pool and
// runs an iteration per tick, or sooner when job results arrive.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/daviddao/cyclepool/pkg/clock"
	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/logger"
	"github.com/daviddao/cyclepool/pkg/pool"
)

// DefaultInterval is the time between iterations when nothing happens.
const DefaultInterval = time.Second

// EventSource delivers job results. *jobs.Executor implements it.
type EventSource interface {
	// Events returns and clears the pending events.
	Events() []jobs.Event
	// Notify receives a value when events are pending. It may be nil.
	Notify() <-chan struct{}
}

var _ EventSource = (*jobs.Executor)(nil)

// Reason says why a run ended.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonComplete: every task up to the stop point is spent.
	ReasonComplete
	// ReasonStopTask: the stop task finished and active jobs drained.
	ReasonStopTask
	// ReasonStopped: a requested stop completed.
	ReasonStopped
	// ReasonStalled: the pool stalled and AbortOnStall is set.
	ReasonStalled
	// ReasonCancelled: the context was cancelled.
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "running"
	case ReasonComplete:
		return "complete"
	case ReasonStopTask:
		return "stop task finished"
	case ReasonStopped:
		return "stopped"
	case ReasonStalled:
		return "stalled"
	case ReasonCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Options configures a Scheduler.
type Options struct {
	Interval     time.Duration
	AbortOnStall bool
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Scheduler runs the iteration loop over one pool.
type Scheduler struct {
	pool     *pool.Pool
	src      EventSource
	interval time.Duration
	abort    bool
	clock    clock.Clock
	log      *slog.Logger

	stopMode atomic.Int32
	stopping pool.StopMode
	stopTask bool
	stalled  bool
	iter     int
}

// New returns a scheduler for p fed by src.
func New(p *pool.Pool, src EventSource, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Scheduler{
		pool:     p,
		src:      src,
		interval: opts.Interval,
		abort:    opts.AbortOnStall,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
}

// Start loads the pool from the store for a restart, or cold starts it
// when the store holds no pool.
func (s *Scheduler) Start() error {
	n, err := s.pool.LoadFromStore()
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if n > 0 {
		s.log.Info("restarted from stored task pool", "tasks", n)
		return nil
	}
	n = s.pool.ColdStart()
	s.log.Info("cold start", "tasks", n)
	return nil
}

// RequestStop asks the run to stop with mode. Safe to call from any
// goroutine; a later, more urgent mode overrides an earlier one.
func (s *Scheduler) RequestStop(mode pool.StopMode) {
	for {
		cur := s.stopMode.Load()
		if int32(mode) <= cur || s.stopMode.CompareAndSwap(cur, int32(mode)) {
			return
		}
	}
}

// Stalled reports whether the last iteration found the pool stalled.
func (s *Scheduler) Stalled() bool { return s.stalled }

// Iterations returns the number of iterations run.
func (s *Scheduler) Iterations() int { return s.iter }

// Step runs one iteration at now. A Reason other than ReasonNone means
// the run is over.
func (s *Scheduler) Step(now time.Time) Reason {
	s.iter++
	p := s.pool

	if s.src != nil {
		for _, ev := range s.src.Events() {
			p.HandleJobEvent(ev)
		}
	}
	p.ProcessSpawnRequests()
	p.ReleaseRunaheadTasks()
	p.ProcessSpawnRequests()
	p.SetExpiredTasks(now)
	p.Negotiate()

	s.updateStopping()
	if s.stopping == pool.StopNone {
		if ready := p.GetReadyTasks(); len(ready) > 0 {
			p.SubmitTasks(ready)
		}
	}
	p.CheckTaskTimers(now)

	p.RemoveSuicidingTasks()
	p.RemoveSpentTasks()
	p.HousekeepWaitingTasks()

	if err := p.FlushStore(); err != nil {
		s.log.Warn("store flush failed; will retry", "error", err)
	}
	return s.checkStop()
}

// updateStopping picks up stop requests and the stop task finishing.
// Once stopping, no new jobs are submitted.
func (s *Scheduler) updateStopping() {
	p := s.pool
	if mode := pool.StopMode(s.stopMode.Load()); mode > s.stopping {
		s.log.Info("stop requested", "mode", int(mode))
		s.stopping = mode
	}
	if !s.stopTask && p.StopTaskDone() {
		s.log.Info("stop task finished; waiting for active jobs")
		s.stopTask = true
		if s.stopping == pool.StopNone {
			s.stopping = pool.StopClean
		}
	}
}

func (s *Scheduler) checkStop() Reason {
	p := s.pool
	s.updateStopping()
	if s.stopping != pool.StopNone && p.CanStop(s.stopping) {
		p.WarnStopOrphans()
		if s.stopTask {
			return ReasonStopTask
		}
		return ReasonStopped
	}
	if p.CheckAutoShutdown() {
		s.log.Info("all tasks finished")
		return ReasonComplete
	}

	if p.IsStalled() {
		if !s.stalled {
			s.log.Warn("suite stalled")
			p.ReportStalledTaskDeps()
			s.stalled = true
		}
		if s.abort {
			return ReasonStalled
		}
	} else if s.stalled {
		s.log.Info("suite no longer stalled")
		s.stalled = false
	}
	return ReasonNone
}

// Run iterates until the run ends or ctx is cancelled. On cancellation the
// pool is flushed one last time and ctx's error is returned.
func (s *Scheduler) Run(ctx context.Context) (Reason, error) {
	log := logger.FromContext(ctx, s.log)
	log.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var notify <-chan struct{}
	if s.src != nil {
		notify = s.src.Notify()
	}
	for {
		if r := s.Step(s.clock.Now()); r != ReasonNone {
			log.Info("scheduler stopped", "reason", r.String(), "iterations", s.iter)
			return r, nil
		}
		select {
		case <-ctx.Done():
			s.pool.WarnStopOrphans()
			if err := s.pool.FlushStore(); err != nil {
				log.Warn("final store flush failed", "error", err)
			}
			return ReasonCancelled, ctx.Err()
		case <-ticker.C:
		case <-notify:
		}
	}
}
