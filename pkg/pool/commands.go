package pool

import (
	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/task"
)

// Operator commands. Each takes task items as understood by
// FilterTaskProxies and returns the number of bad items: items matching
// nothing, or tasks the command could not act on.

// HoldTasks holds the matched tasks.
func (p *Pool) HoldTasks(items []string) int {
	ts, bad := p.FilterTaskProxies(items)
	for _, t := range ts {
		if t.Hold() {
			p.log.Info("held", "task", t.ID())
		}
	}
	return len(bad)
}

// ReleaseTasks releases the matched tasks.
func (p *Pool) ReleaseTasks(items []string) int {
	ts, bad := p.FilterTaskProxies(items)
	for _, t := range ts {
		if t.Release() {
			p.log.Info("released", "task", t.ID())
		}
		delete(p.heldFuture, t.ID())
	}
	return len(bad)
}

// HoldAll holds every task and every task spawned from now on.
func (p *Pool) HoldAll() {
	p.isHeld = true
	for _, t := range p.AllTasks() {
		t.Hold()
	}
	p.log.Info("suite held")
}

// ReleaseAll lifts a HoldAll and releases every task.
func (p *Pool) ReleaseAll() {
	p.isHeld = false
	for _, t := range p.AllTasks() {
		t.Release()
	}
	clear(p.heldFuture)
	p.log.Info("suite released")
}

// IsHeld reports whether the whole pool is held.
func (p *Pool) IsHeld() bool { return p.isHeld }

// RemoveTasks removes the matched tasks without spawning anything.
func (p *Pool) RemoveTasks(items []string) int {
	ts, bad := p.FilterTaskProxies(items)
	for _, t := range ts {
		if t.Status().IsActive() {
			p.log.Warn("removing task with an active job", "task", t.ID())
		}
		p.remove(t, "request")
	}
	return len(bad)
}

// TriggerTasks queues the matched tasks to run at once, bypassing their
// prerequisites, hold and queue limit. Tasks with a live job are left
// alone and counted as bad.
func (p *Pool) TriggerTasks(items []string) int {
	ts, bad := p.FilterTaskProxies(items)
	n := len(bad)
	for _, t := range ts {
		if t.Status().IsQueueActive() {
			p.log.Warn("not triggering: job already active", "task", t.ID(), "status", t.Status().String())
			n++
			continue
		}
		p.toMainPool(t)
		t.ManualTrigger = true
		t.Release()
		t.SetStatus(model.StatusQueued)
		t.MarkDirty()
		p.log.Info("triggered", "task", t.ID())
	}
	return n
}

// toMainPool releases t from the runahead pool ahead of the window.
func (p *Pool) toMainPool(t *task.Proxy) {
	if h, ok := p.handleOf(t); ok && p.arena.at(h).runahead {
		p.release(h)
	}
}

// InsertTasks spawns tasks that are not in the pool, at an explicit
// point, with their prerequisites satisfied so that they run on the next
// pass. Names may be globs over the defined tasks. A non-nil stop keeps
// the inserted tasks from spawning past it.
func (p *Pool) InsertTasks(items []string, stop *cycling.Point) int {
	bad := 0
	for _, item := range items {
		pointStr, namePat, _ := parseTaskItem(item)
		if pointStr == "" {
			p.log.Warn("insert requires a cycle point", "item", item)
			bad++
			continue
		}
		point, err := cycling.ParsePoint(pointStr)
		if err != nil {
			p.log.Warn("bad cycle point", "item", item, "error", err)
			bad++
			continue
		}
		names := p.matchTaskNames(namePat)
		if len(names) == 0 {
			p.log.Warn("no matching tasks found", "item", item)
			bad++
			continue
		}
		for _, name := range names {
			t := p.SpawnForced(name, point, stop)
			if t == nil {
				bad++
				continue
			}
			if !t.Status().IsQueueActive() {
				t.ResetWaiting()
				t.SetPrerequisitesSatisfied()
			}
			p.log.Info("inserted", "task", t.ID())
		}
	}
	return bad
}

// ResetTaskStates forces the matched tasks into state: waiting, held,
// ready, succeeded or failed. A task in the ready state has a job being
// submitted and cannot be reset. Resetting to succeeded or failed spawns
// the children of the completed outputs.
func (p *Pool) ResetTaskStates(items []string, state string) (int, error) {
	target, err := model.ParseResetTarget(state)
	if err != nil {
		return 0, err
	}
	ts, bad := p.FilterTaskProxies(items)
	n := len(bad)
	for _, t := range ts {
		if t.Status() == model.StatusReady {
			p.log.Warn("a ready task cannot be reset", "task", t.ID())
			n++
			continue
		}
		p.log.Info("resetting state", "task", t.ID(), "from", t.Status().String(), "to", string(target))
		switch target {
		case model.ResetWaiting:
			t.ResetWaiting()
		case model.ResetHeld:
			t.Hold()
		case model.ResetReady:
			t.ResetReady()
		case model.ResetSucceeded:
			t.ResetSucceeded()
			for _, out := range t.Outputs.Completed() {
				p.outputDone(t, out)
			}
		case model.ResetFailed:
			t.ResetFailed()
			p.outputDone(t, model.OutputFailed)
		}
	}
	p.ProcessSpawnRequests()
	return n, nil
}

// SpawnDownstream spawns the children of tasks on selected outputs as if
// those outputs had completed, without creating the tasks themselves.
// Items need a cycle point. No outputs means succeeded. Children that
// already ran are not spawned again and count as bad; children outside
// the run's cycle points are skipped.
func (p *Pool) SpawnDownstream(items, outputs []string) int {
	p.ProcessSpawnRequests()
	if len(outputs) == 0 {
		outputs = []string{model.OutputSucceeded}
	}
	for i, out := range outputs {
		outputs[i] = model.NormalizeOutput(out)
	}
	bad := 0
	for _, item := range items {
		pointStr, namePat, _ := parseTaskItem(item)
		point, err := cycling.ParsePoint(pointStr)
		if pointStr == "" || err != nil {
			p.log.Warn("spawn requires a cycle point", "item", item)
			bad++
			continue
		}
		names := p.matchTaskNames(namePat)
		if len(names) == 0 {
			p.log.Warn("no matching tasks found", "item", item)
			bad++
			continue
		}
		for _, name := range names {
			def, _ := p.cfg.TaskDef(name)
			if !def.IsValidPoint(point) {
				p.log.Warn("not spawning: point not on the task's sequences", "task", model.TaskID(name, point))
				bad++
				continue
			}
			tmp := p.newProxy(def, point, 0)
			for _, out := range tmp.Outputs.All() {
				for _, want := range outputs {
					if out == want {
						p.log.Info("forced spawning on output", "task", tmp.ID(), "output", out)
						p.outputDone(tmp, out)
					}
				}
			}
		}
	}
	_, refused := p.processSpawnQueue()
	seen := map[string]bool{}
	for _, req := range refused {
		id := model.TaskID(req.name, req.point)
		if seen[id] || !p.inBounds(req.point) {
			continue
		}
		seen[id] = true
		p.log.Warn("downstream task not spawned", "task", id, "parent", req.parent)
		bad++
	}
	return bad
}

// KillTasks holds the matched active tasks and kills their jobs. Waiting
// retries are only held. Other tasks have nothing to kill and count as
// bad.
func (p *Pool) KillTasks(items []string) int {
	ts, bad := p.FilterTaskProxies(items)
	n := len(bad)
	var keys []jobs.Key
	for _, t := range ts {
		switch {
		case t.Status().IsQueueActive():
			// A held task is not resubmitted when the kill's failure
			// schedules a retry.
			t.Hold()
			p.log.Info("killing job", "task", t.ID(), "submit_num", t.SubmitNum)
			keys = append(keys, jobs.Key{Name: t.Name, Point: t.Point, SubmitNum: t.SubmitNum})
		case t.Status().IsRetrying():
			t.Hold()
			p.log.Info("held retrying task", "task", t.ID())
		default:
			p.log.Warn("no job to kill", "task", t.ID(), "status", t.Status().String())
			n++
		}
	}
	if len(keys) > 0 {
		p.jobs.Kill(keys)
	}
	return n
}

// PollTasks polls the jobs of the matched active tasks.
func (p *Pool) PollTasks(items []string) int {
	ts, bad := p.FilterTaskProxies(items)
	n := len(bad)
	var keys []jobs.Key
	for _, t := range ts {
		if !t.Status().IsQueueActive() {
			n++
			continue
		}
		keys = append(keys, jobs.Key{Name: t.Name, Point: t.Point, SubmitNum: t.SubmitNum})
	}
	if len(keys) > 0 {
		p.jobs.Poll(keys)
	}
	return n
}

// SetStopPoint sets the run's stop point and holds waiting or queued
// tasks beyond it. Nil clears it.
func (p *Pool) SetStopPoint(pt *cycling.Point) {
	p.stopPoint = pt
	p.stopFromFinal = false
	if pt == nil {
		p.log.Info("stop point cleared")
		return
	}
	p.log.Info("stop point set", "point", pt.String())
	for _, t := range p.Tasks() {
		if t.Point <= *pt || t.IsHeld() {
			continue
		}
		if s := t.Status(); s == model.StatusWaiting || s == model.StatusQueued {
			p.log.Info("holding (beyond suite stop point)", "task", t.ID())
			t.Hold()
		}
	}
}

// StopPoint returns the run's stop point, if set.
func (p *Pool) StopPoint() (cycling.Point, bool) {
	if p.stopPoint == nil {
		return 0, false
	}
	return *p.stopPoint, true
}

// SetHoldPoint holds every task beyond pt, now and when spawned.
func (p *Pool) SetHoldPoint(pt cycling.Point) {
	p.holdPoint = &pt
	p.log.Info("hold point set", "point", pt.String())
	for _, t := range p.AllTasks() {
		if t.Point > pt && t.Hold() {
			p.log.Info("holding (beyond suite hold point)", "task", t.ID())
		}
	}
}

// SetRunaheadLimit changes the count-limited runahead policy's limit.
func (p *Pool) SetRunaheadLimit(n int) {
	if n < 1 {
		p.log.Warn("ignoring runahead limit below one", "limit", n)
		return
	}
	p.runaheadLimit = n
	p.log.Info("runahead limit set", "limit", n)
}

// SetStopTask makes the run stop once the task id finishes.
func (p *Pool) SetStopTask(id string) error {
	if _, _, err := model.ParseTaskID(id); err != nil {
		return err
	}
	p.stopTaskID = id
	p.stopTaskDone = false
	p.log.Info("stop task set", "task", id)
	return nil
}

// StopTaskDone reports whether the stop task has finished.
func (p *Pool) StopTaskDone() bool { return p.stopTaskDone }
