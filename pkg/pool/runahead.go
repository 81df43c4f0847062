package pool

import (
	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/frontier"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
	"github.com/daviddao/cyclepool/pkg/task"
)

// AddToRunahead adds a new proxy to the runahead pool. A duplicate id is
// refused, as is a task beyond its own stop point. The task is held if it
// lies beyond the hold point, if a future trigger of it overruns the stop
// point, or if the whole pool is held. isNew records the spawn in the
// store when the task has never been submitted.
func (p *Pool) AddToRunahead(t *task.Proxy, isNew bool) bool {
	id := t.ID()
	if _, ok := p.byID[id]; ok {
		p.log.Warn("cannot be added to pool: task ID already exists", "task", id)
		return false
	}
	if t.StopPoint != nil && t.Point > *t.StopPoint {
		p.log.Info("not adding to pool: beyond task stop cycle", "task", id, "stop", t.StopPoint.String())
		return false
	}

	switch {
	case p.holdPoint != nil && t.Point > *p.holdPoint:
		p.log.Info("holding (beyond suite hold point)", "task", id, "hold_point", p.holdPoint.String())
		t.Hold()
	case p.stopPoint != nil && t.Point <= *p.stopPoint && p.futureTriggerOverrun(t):
		p.log.Info("holding (future trigger beyond stop point)", "task", id, "stop_point", p.stopPoint.String())
		p.heldFuture[id] = true
		t.Hold()
	case p.isHeld && t.Status() == model.StatusWaiting && !t.IsHeld():
		t.Hold()
	}

	h := p.arena.alloc(t)
	p.byID[id] = h
	p.rhByPoint[t.Point] = append(p.rhByPoint[t.Point], h)
	p.poolChanged = true

	if isNew && t.SubmitNum == 0 {
		now := p.clock.Now()
		p.pendingInserts = append(p.pendingInserts, store.TaskState{
			Name:    t.Name,
			Point:   t.Point,
			Created: now,
			Updated: now,
			Status:  t.Status(),
		})
	}
	return true
}

func (p *Pool) futureTriggerOverrun(t *task.Proxy) bool {
	for _, pt := range t.TargetPoints() {
		if pt > *p.stopPoint {
			return true
		}
	}
	return false
}

// ReleaseRunaheadTasks moves tasks whose points fall inside the runahead
// window into the main pool. Finished tasks are released at once. It
// reports whether any task was released.
func (p *Pool) ReleaseRunaheadTasks() bool {
	released := false
	for _, h := range p.collect(p.rhByPoint) {
		if p.proxy(h).Status().IsFinished() {
			p.release(h)
			released = true
		}
	}
	if len(p.rhByPoint) == 0 {
		return released
	}

	states := make([]frontier.PointState, 0, p.arena.live())
	for _, t := range p.AllTasks() {
		states = append(states, frontier.PointState{Point: t.Point, Unfinished: !t.Status().IsFinished()})
	}
	adm, ok := p.window.Compute(states, frontier.Policy{
		Limit:           p.runaheadLimit,
		Custom:          p.customRunahead,
		MaxFutureOffset: p.maxFutureOffset,
		StopPoint:       p.stopPoint,
	})
	if !ok {
		return released
	}
	if adm.ShortCustom && adm.BaseChanged {
		p.log.Warn("custom runahead limit is less than the max future trigger offset: the suite may stall",
			"limit", p.customRunahead.String(), "max_future_offset", p.maxFutureOffset.String())
	}
	for _, h := range p.collect(p.rhByPoint) {
		if p.proxy(h).Point <= adm.LatestAllowed {
			p.release(h)
			released = true
		}
	}
	return released
}

// release moves the runahead task in h into the main pool and its queue,
// then asks for its successor.
func (p *Pool) release(h Handle) {
	s := p.arena.at(h)
	t := s.proxy
	p.rhByPoint[t.Point] = removeHandle(p.rhByPoint[t.Point], h)
	if len(p.rhByPoint[t.Point]) == 0 {
		delete(p.rhByPoint, t.Point)
	}
	s.runahead = false
	s.queue = p.cfg.QueueOf(t.Name)
	p.mainByPoint[t.Point] = append(p.mainByPoint[t.Point], h)
	p.queues[s.queue] = append(p.queues[s.queue], h)
	p.poolChanged = true
	p.log.Debug("released to the task pool", "task", t.ID(), "queue", s.queue)

	if t.Def.MaxFutureOffset != nil {
		p.setMaxFutureOffset()
	}
	p.autoSpawnSuccessor(t)
}

// autoSpawnSuccessor requests the next instance of t when nothing in the
// pool will spawn it: it has no parents inside the run, or it is gated
// only by absolute triggers.
func (p *Pool) autoSpawnSuccessor(t *task.Proxy) {
	if t.Def.Sequential || t.NoSpawn {
		return
	}
	next, ok := t.Def.NextPoint(t.Point)
	if !ok {
		return
	}
	if p.parentless(t.Def.ParentPoints(next)) || len(t.Def.AbsTriggers(next)) > 0 {
		p.RequestSpawn(t.Name, next)
	}
}

// parentless reports whether none of pts lies inside the run.
func (p *Pool) parentless(pts []cycling.Point) bool {
	for _, pt := range pts {
		if pt >= p.cfg.InitialPoint() {
			return false
		}
	}
	return true
}

// setMaxFutureOffset recomputes the largest future trigger offset over
// the main pool.
func (p *Pool) setMaxFutureOffset() {
	var best *cycling.Interval
	for _, hs := range p.mainByPoint {
		for _, h := range hs {
			off := p.proxy(h).Def.MaxFutureOffset
			if off != nil && (best == nil || *off > *best) {
				v := *off
				best = &v
			}
		}
	}
	p.maxFutureOffset = best
}
