package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/daviddao/cyclepool/pkg/clock"
)

// Options configures an Executor.
type Options struct {
	// MaxJobs bounds concurrently running jobs and handlers (default 8).
	MaxJobs int
	// SubmitRate limits job starts per second; zero means unlimited.
	SubmitRate float64
	// Burst is the limiter burst size (default 1).
	Burst int
}

type jobState struct {
	ctx    context.Context
	cancel context.CancelFunc
	kind   string
	killed bool
}

type work struct {
	spec    *Spec
	fn      func(ctx context.Context) error
	limited bool
}

// Executor is a bounded asynchronous job runner.
type Executor struct {
	runner  Runner
	limiter *rate.Limiter
	clock   clock.Clock
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group
	done   chan struct{}

	mu      sync.Mutex
	pending []work
	jobs    map[Key]*jobState
	events  []Event

	kick   chan struct{}
	notify chan struct{}
}

// NewExecutor starts an executor. It runs until ctx is cancelled or Close
// is called.
func NewExecutor(ctx context.Context, runner Runner, opts Options, clk clock.Clock, log *slog.Logger) *Executor {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 8
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.SubmitRate > 0 {
		limit = rate.Limit(opts.SubmitRate)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &Executor{
		runner:  runner,
		limiter: rate.NewLimiter(limit, opts.Burst),
		clock:   clk,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		jobs:    map[Key]*jobState{},
		kick:    make(chan struct{}, 1),
		notify:  make(chan struct{}, 1),
	}
	e.g.SetLimit(opts.MaxJobs)
	go e.dispatch()
	return e
}

// Submit queues jobs for execution.
func (e *Executor) Submit(specs []Spec) {
	e.mu.Lock()
	for i := range specs {
		spec := specs[i]
		ctx, cancel := context.WithCancel(e.ctx)
		e.jobs[spec.Key] = &jobState{ctx: ctx, cancel: cancel}
		e.pending = append(e.pending, work{spec: &spec, limited: true})
	}
	e.mu.Unlock()
	e.wake()
}

// Go runs fn on the worker pool without the submission rate limit. Event
// handlers use it.
func (e *Executor) Go(fn func(ctx context.Context) error) {
	e.mu.Lock()
	e.pending = append(e.pending, work{fn: fn})
	e.mu.Unlock()
	e.wake()
}

// Poll reports the state of each running job. Jobs still waiting for a
// worker report nothing. Finished jobs are forgotten once their final
// event is queued and poll as unknown.
func (e *Executor) Poll(keys []Key) {
	for _, k := range keys {
		e.mu.Lock()
		st, ok := e.jobs[k]
		kind := ""
		if ok {
			kind = st.kind
		}
		e.mu.Unlock()
		switch {
		case !ok:
			e.Emit(Event{Key: k, Kind: KindPollFailed, Message: "no such job"})
		case kind == "":
			e.log.Debug("poll: job not started yet", "job", k.String())
		default:
			e.Emit(Event{Key: k, Kind: kind, Message: "polled"})
		}
	}
}

// Kill cancels jobs. A job that is unknown or already finished reports
// KindKillFailed.
func (e *Executor) Kill(keys []Key) {
	for _, k := range keys {
		e.mu.Lock()
		st, ok := e.jobs[k]
		if ok {
			st.killed = true
			st.cancel()
		}
		e.mu.Unlock()
		if !ok {
			e.Emit(Event{Key: k, Kind: KindKillFailed, Message: "no such job"})
		}
	}
}

// Emit queues an event for the scheduler. Safe for concurrent use.
func (e *Executor) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.clock.Now()
	}
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	e.signal()
}

func (e *Executor) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Events returns and clears the events delivered since the last call.
func (e *Executor) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

// Notify receives a value whenever new events are waiting.
func (e *Executor) Notify() <-chan struct{} { return e.notify }

// Close kills running jobs and waits for every worker to return.
func (e *Executor) Close() error {
	e.cancel()
	<-e.done
	return e.g.Wait()
}

func (e *Executor) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Executor) dispatch() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.kick:
		}
		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()

		for _, w := range batch {
			if w.limited {
				if err := e.limiter.Wait(e.ctx); err != nil {
					return
				}
			}
			if w.spec != nil {
				spec := *w.spec
				e.g.Go(func() error {
					e.run(spec)
					return nil
				})
				continue
			}
			fn := w.fn
			e.g.Go(func() error {
				if err := fn(e.ctx); err != nil {
					e.log.Warn("background task failed", "error", err)
				}
				return nil
			})
		}
	}
}

func (e *Executor) run(spec Spec) {
	e.mu.Lock()
	st := e.jobs[spec.Key]
	e.mu.Unlock()

	if st.ctx.Err() != nil {
		e.finish(spec.Key, KindFailed, "killed before submission")
		return
	}
	proc, err := e.runner.Start(st.ctx, spec)
	if err != nil {
		e.finish(spec.Key, KindSubmitFailed, err.Error())
		return
	}
	e.setKind(spec.Key, KindSubmitted)
	e.Emit(Event{Key: spec.Key, Kind: KindSubmitted})
	e.setKind(spec.Key, KindStarted)
	e.Emit(Event{Key: spec.Key, Kind: KindStarted})

	start := e.clock.Now()
	err = proc.Wait(func(output string) {
		e.Emit(Event{Key: spec.Key, Kind: KindMessage, Message: output})
	})
	e.log.Debug("job exited", "job", spec.Key.String(), "elapsed", e.clock.Now().Sub(start).Round(time.Millisecond))

	e.mu.Lock()
	killed := st.killed
	e.mu.Unlock()
	switch {
	case killed:
		e.finish(spec.Key, KindFailed, "killed")
	case errors.Is(err, ErrSubmit):
		e.finish(spec.Key, KindSubmitFailed, err.Error())
	case err != nil:
		e.finish(spec.Key, KindFailed, err.Error())
	default:
		e.finish(spec.Key, KindSucceeded, "")
	}
}

func (e *Executor) setKind(k Key, kind string) {
	e.mu.Lock()
	if st, ok := e.jobs[k]; ok {
		st.kind = kind
	}
	e.mu.Unlock()
}

// finish queues the job's final event and forgets the job in one step, so
// a poll or kill that no longer finds it is reported after the final
// event.
func (e *Executor) finish(k Key, kind, msg string) {
	e.mu.Lock()
	if st, ok := e.jobs[k]; ok {
		st.cancel()
		delete(e.jobs, k)
	}
	e.events = append(e.events, Event{Key: k, Kind: kind, Message: msg, Time: e.clock.Now()})
	e.mu.Unlock()
	e.signal()
}
