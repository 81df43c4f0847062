package pool

import (
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/events"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
	"github.com/daviddao/cyclepool/pkg/task"
)

// remove drops t from the pool and queues its final state for the store.
// It is a no-op for a proxy that is no longer live.
func (p *Pool) remove(t *task.Proxy, reason string) {
	if !p.detach(t) {
		return
	}
	p.pendingUpdates = append(p.pendingUpdates, store.TaskState{
		Name:      t.Name,
		Point:     t.Point,
		Updated:   p.clock.Now(),
		SubmitNum: t.SubmitNum,
		Status:    t.Status(),
	})
	p.log.Debug("task proxy removed", "task", t.ID(), "reason", reason)
}

// detach unlinks t from every index and frees its slot.
func (p *Pool) detach(t *task.Proxy) bool {
	h, ok := p.handleOf(t)
	if !ok {
		return false
	}
	s := p.arena.at(h)
	wasMain := !s.runahead
	if s.runahead {
		p.rhByPoint[t.Point] = removeHandle(p.rhByPoint[t.Point], h)
		if len(p.rhByPoint[t.Point]) == 0 {
			delete(p.rhByPoint, t.Point)
		}
	} else {
		p.mainByPoint[t.Point] = removeHandle(p.mainByPoint[t.Point], h)
		if len(p.mainByPoint[t.Point]) == 0 {
			delete(p.mainByPoint, t.Point)
		}
		p.queues[s.queue] = removeHandle(p.queues[s.queue], h)
	}
	delete(p.byID, t.ID())
	delete(p.heldFuture, t.ID())
	p.arena.release(h)
	p.poolChanged = true
	if wasMain && t.Def.MaxFutureOffset != nil {
		p.setMaxFutureOffset()
	}
	return true
}

// RemoveSuicidingTasks removes every task whose suicide prerequisites are
// all satisfied. Active tasks are removed too, with a warning. It returns
// the number removed.
func (p *Pool) RemoveSuicidingTasks() int {
	n := 0
	for _, t := range p.AllTasks() {
		if !t.SuicideSatisfied() {
			continue
		}
		if t.Status().IsQueueActive() {
			p.log.Warn("suiciding while active", "task", t.ID(), "status", t.Status().String())
		} else {
			p.log.Info("suiciding", "task", t.ID())
		}
		p.remove(t, "suicide")
		n++
	}
	return n
}

// RemoveSpentTasks removes spent tasks no longer needed by any child: a
// task goes once the earliest waiting or held task is past its cleanup
// cutoff and it has no event handlers in flight. It returns the number
// removed.
func (p *Pool) RemoveSpentTasks() int {
	cutoff, ok := p.earliestUnspent()
	if !ok {
		return 0
	}
	n := 0
	for _, t := range p.Tasks() {
		if isSpent(t) && t.PendingEventRetries == 0 && cutoff > t.CleanupCutoff {
			p.remove(t, "spent")
			n++
		}
	}
	return n
}

// earliestUnspent returns the point of the earliest waiting or held task.
func (p *Pool) earliestUnspent() (cycling.Point, bool) {
	var best cycling.Point
	found := false
	for _, t := range p.AllTasks() {
		if t.Status() != model.StatusWaiting && !t.IsHeld() {
			continue
		}
		if !found || t.Point < best {
			best, found = t.Point, true
		}
	}
	return best, found
}

// HousekeepWaitingTasks removes unheld waiting tasks that can never run:
// every parent has finished yet a prerequisite is still unmet. It returns
// the number removed.
func (p *Pool) HousekeepWaitingTasks() int {
	n := 0
	for _, t := range p.Tasks() {
		if t.Status() != model.StatusWaiting || t.IsHeld() {
			continue
		}
		if !t.AllParentsFinished() || t.PrereqsSatisfied() {
			continue
		}
		p.log.Info("removing stuck waiting task: all parents finished", "task", t.ID())
		p.remove(t, "housekeeping")
		n++
	}
	return n
}

// SetExpiredTasks expires unheld waiting tasks whose expiry time has
// passed. Expired tasks complete the expired output and are cleaned up
// like any spent task. It returns the number expired.
func (p *Pool) SetExpiredTasks(now time.Time) int {
	n := 0
	for _, t := range p.Tasks() {
		if t.Status() != model.StatusWaiting || t.IsHeld() {
			continue
		}
		at, ok := t.ExpireTime(p.cfg.PointTime)
		if !ok || !now.After(at) {
			continue
		}
		p.log.Warn("task expired (skipping job)", "task", t.ID(), "expire_time", at)
		p.recordEvent(t, events.Expired, "", now)
		p.fireEvent(t, events.Expired, "")
		t.ResetExpired()
		p.outputDone(t, model.OutputExpired)
		n++
	}
	return n
}
