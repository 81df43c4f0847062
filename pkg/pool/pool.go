// Package pool implements the task pool: every live task proxy of a run,
// partitioned into the runahead pool (spawned, not yet admitted) and the
// main pool (admitted, queued and run).
//
// The pool owns its proxies and performs no locking. It is driven from the
// scheduler goroutine only; job results reach it as jobs.Event values
// through HandleJobEvent. Per-task failures are logged and never abort
// processing of the other tasks.
package pool

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/daviddao/cyclepool/pkg/broker"
	"github.com/daviddao/cyclepool/pkg/clock"
	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/frontier"
	"github.com/daviddao/cyclepool/pkg/logger"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
	"github.com/daviddao/cyclepool/pkg/suite"
	"github.com/daviddao/cyclepool/pkg/task"
)

// Options are the pool's injected dependencies. Only Logger and Clock
// have defaults; a nil Store disables persistence and reflow checks.
type Options struct {
	Store  Persistence
	Jobs   JobControl
	Events EventHandler
	Logger *slog.Logger
	Clock  clock.Clock
}

// Pool is the task pool of one run.
type Pool struct {
	cfg    *suite.Config
	store  Persistence
	jobs   JobControl
	events EventHandler
	log    *slog.Logger
	clock  clock.Clock

	arena       arena
	byID        map[string]Handle
	rhByPoint   map[cycling.Point][]Handle
	mainByPoint map[cycling.Point][]Handle
	queues      map[string][]Handle

	window *frontier.Window
	broker *broker.Broker

	runaheadLimit   int
	customRunahead  *cycling.Interval
	maxFutureOffset *cycling.Interval
	stopPoint       *cycling.Point
	stopFromFinal   bool // stopPoint is the suite's final point, not an operator's
	holdPoint       *cycling.Point
	isHeld          bool

	// heldFuture are tasks held because a future trigger points past the
	// stop point. They do not block auto shutdown.
	heldFuture map[string]bool

	// absDone holds completed outputs that absolute triggers wait on.
	absDone  map[string]bool
	absDirty bool

	orphans      []string
	stopTaskID   string
	stopTaskDone bool

	spawnQueue []spawnRequest

	pendingInserts []store.TaskState
	pendingUpdates []store.TaskState
	pendingEvents  []store.TaskEvent
	poolChanged    bool
}

// New returns an empty pool for cfg.
func New(cfg *suite.Config, opts Options) *Pool {
	p := &Pool{
		cfg:         cfg,
		store:       opts.Store,
		jobs:        opts.Jobs,
		events:      opts.Events,
		log:         opts.Logger,
		clock:       opts.Clock,
		byID:        map[string]Handle{},
		rhByPoint:   map[cycling.Point][]Handle{},
		mainByPoint: map[cycling.Point][]Handle{},
		queues:      map[string][]Handle{},
		broker:      broker.New(),
		heldFuture:  map[string]bool{},
		absDone:     map[string]bool{},
	}
	if p.jobs == nil {
		p.jobs = nopJobs{}
	}
	if p.events == nil {
		p.events = nopEvents{}
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	p.applyConfig(cfg)
	return p
}

// applyConfig takes the runahead policy, final point and hold point from
// cfg. A stop point that came from the old final point follows the new
// one; a stop point set by the operator is kept.
func (p *Pool) applyConfig(cfg *suite.Config) {
	p.cfg = cfg
	p.window = frontier.NewWindow(cfg.Sequences())
	p.runaheadLimit = cfg.RunaheadLimit()
	p.customRunahead = nil
	if c, ok := cfg.CustomRunahead(); ok {
		p.customRunahead = &c
	}
	if p.stopPoint == nil || p.stopFromFinal {
		final, ok := cfg.FinalPoint()
		if ok {
			p.stopPoint = &final
		} else {
			p.stopPoint = nil
		}
		p.stopFromFinal = ok
	}
	if hp, ok := cfg.HoldPoint(); ok && p.holdPoint == nil {
		p.holdPoint = &hp
	}
}

// Config returns the suite configuration in force.
func (p *Pool) Config() *suite.Config { return p.cfg }

// Negotiate runs one broker pass: the completed outputs of the main pool
// satisfy open edges of every task. It returns the number of edges newly
// satisfied.
func (p *Pool) Negotiate() int {
	p.broker.Reset()
	p.broker.Register(p.Tasks())
	return p.broker.Negotiate(p.AllTasks())
}

// proxy returns the task in slot h.
func (p *Pool) proxy(h Handle) *task.Proxy { return p.arena.at(h).proxy }

// handleOf returns the handle of t, if t is the live proxy for its id.
func (p *Pool) handleOf(t *task.Proxy) (Handle, bool) {
	h, ok := p.byID[t.ID()]
	if !ok || p.proxy(h) != t {
		return 0, false
	}
	return h, true
}

// sorted orders handles by point, then name.
func (p *Pool) sorted(hs []Handle) []Handle {
	slices.SortFunc(hs, func(a, b Handle) int {
		ta, tb := p.proxy(a), p.proxy(b)
		if c := ta.Point.Compare(tb.Point); c != 0 {
			return c
		}
		switch {
		case ta.Name < tb.Name:
			return -1
		case ta.Name > tb.Name:
			return 1
		}
		return 0
	})
	return hs
}

func (p *Pool) collect(m map[cycling.Point][]Handle) []Handle {
	var hs []Handle
	for _, pt := range slices.Sorted(maps.Keys(m)) {
		hs = append(hs, m[pt]...)
	}
	return p.sorted(hs)
}

func (p *Pool) proxies(hs []Handle) []*task.Proxy {
	out := make([]*task.Proxy, len(hs))
	for i, h := range hs {
		out[i] = p.proxy(h)
	}
	return out
}

// newProxy builds a waiting proxy for def at point with failure handling
// and already-completed absolute outputs applied.
func (p *Pool) newProxy(def *model.TaskDefinition, point cycling.Point, submitNum int) *task.Proxy {
	t := task.New(def, p.cfg.InitialPoint(), point, submitNum)
	t.FailureHandled = len(p.cfg.Children(def.Name, model.OutputFailed, point)) > 0
	for _, trig := range def.AbsTriggers(point) {
		if key := trig.Key(point); p.absDone[key] {
			t.SatisfyMe(key)
			t.SetParentFinished(model.TaskID(trig.Task, trig.AbsPoint))
		}
	}
	return t
}

// isSpent reports whether t is finished with nothing more to give: spent,
// or failed with the failure handled downstream.
func isSpent(t *task.Proxy) bool {
	return t.Status().IsSpent() || (t.Status() == model.StatusFailed && t.FailureHandled)
}

func removeHandle(hs []Handle, h Handle) []Handle {
	if i := slices.Index(hs, h); i >= 0 {
		return slices.Delete(hs, i, i+1)
	}
	return hs
}
