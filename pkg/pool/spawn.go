package pool

import (
	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
	"github.com/daviddao/cyclepool/pkg/task"
)

// spawnRequest asks for a task instance to be spawned, or updated if it
// already exists, on behalf of a parent.
type spawnRequest struct {
	name  string
	point cycling.Point

	// parent is the id of the requesting task, empty for auto-spawn.
	parent string
	// output is the parent output that satisfies the child.
	output string
	// finished marks the parent as finished in the child.
	finished bool
	// suicide requests only update an existing child.
	suicide bool
}

// RequestSpawn queues a spawn of name at point with no parent.
func (p *Pool) RequestSpawn(name string, point cycling.Point) {
	p.spawnQueue = append(p.spawnQueue, spawnRequest{name: name, point: point})
}

// ProcessSpawnRequests drains the spawn queue in FIFO order. It returns
// the number of tasks spawned.
func (p *Pool) ProcessSpawnRequests() int {
	n, _ := p.processSpawnQueue()
	return n
}

// processSpawnQueue drains the spawn queue and also returns the requests
// that were refused.
func (p *Pool) processSpawnQueue() (int, []spawnRequest) {
	n := 0
	var refused []spawnRequest
	for len(p.spawnQueue) > 0 {
		req := p.spawnQueue[0]
		p.spawnQueue = p.spawnQueue[1:]

		child := p.Get(req.name, req.point)
		if child == nil && !req.suicide {
			if child = p.Spawn(req.name, req.point); child != nil {
				n++
			} else {
				refused = append(refused, req)
			}
		}
		if child == nil {
			continue
		}
		if req.output != "" {
			child.SatisfyMe(req.parent + ":" + req.output)
		}
		if req.finished {
			child.SetParentFinished(req.parent)
		}
	}
	if len(p.spawnQueue) == 0 {
		p.spawnQueue = nil
	}
	return n, refused
}

// inBounds reports whether pt lies between the initial and final points.
func (p *Pool) inBounds(pt cycling.Point) bool {
	if pt < p.cfg.InitialPoint() {
		return false
	}
	final, ok := p.cfg.FinalPoint()
	return !ok || pt <= final
}

// Spawn returns the task name at point, creating it in the runahead pool
// if it does not exist. Points outside the run's bounds are refused, and
// so is an instance that already ran and was cleaned up.
func (p *Pool) Spawn(name string, point cycling.Point) *task.Proxy {
	return p.spawn(name, point, false, nil)
}

// SpawnForced spawns like Spawn but ignores the run's bounds and earlier
// submissions. A non-nil stop keeps the task from spawning past it.
func (p *Pool) SpawnForced(name string, point cycling.Point, stop *cycling.Point) *task.Proxy {
	return p.spawn(name, point, true, stop)
}

func (p *Pool) spawn(name string, point cycling.Point, forced bool, stop *cycling.Point) *task.Proxy {
	id := model.TaskID(name, point)
	if h, ok := p.byID[id]; ok {
		return p.proxy(h)
	}
	if !forced {
		if point < p.cfg.InitialPoint() {
			p.log.Debug("not spawning: before initial cycle point", "task", id)
			return nil
		}
		if final, ok := p.cfg.FinalPoint(); ok && point > final {
			p.log.Debug("not spawning: beyond final cycle point", "task", id)
			return nil
		}
	}
	def, ok := p.cfg.TaskDef(name)
	if !ok {
		p.log.Warn("failed to spawn: no such task", "task", id)
		return nil
	}

	submitNum := 0
	if p.store != nil {
		key := store.TaskKey{Name: name, Point: point}
		nums, err := p.store.SelectSubmitNums([]store.TaskKey{key})
		if err != nil {
			p.log.Warn("failed to spawn: submit number lookup", "task", id, "error", err)
			return nil
		}
		submitNum = nums[key]
		if submitNum > 0 && !forced {
			p.log.Warn("not spawning: already spawned and run in this suite", "task", id, "submit_num", submitNum)
			return nil
		}
	}

	t := p.newProxy(def, point, submitNum)
	t.StopPoint = stop
	if !p.AddToRunahead(t, true) {
		return nil
	}
	p.log.Info("spawned", "task", id)
	return t
}

// SpawnOnOutput requests the children of t that trigger off output. When
// the output finishes t, the children of every output are updated so that
// they see t as finished.
func (p *Pool) SpawnOnOutput(t *task.Proxy, output string) {
	if t.NoSpawn {
		p.log.Debug("not spawning children of orphan", "task", t.ID(), "output", output)
		return
	}
	finished := output == model.OutputSucceeded || output == model.OutputExpired ||
		(output == model.OutputFailed && t.FailureHandled)
	sel := output
	if finished {
		sel = ""
	}
	id := t.ID()
	for _, c := range p.cfg.Children(t.Name, sel, t.Point) {
		p.spawnQueue = append(p.spawnQueue, spawnRequest{
			name:     c.Name,
			point:    c.Point,
			parent:   id,
			output:   output,
			finished: finished,
			suicide:  c.Suicide,
		})
	}
	if finished && id == p.stopTaskID {
		p.stopTaskDone = true
	}
}

// ColdStart requests the first instance of every task whose first point
// has no parent inside the run, then spawns them. It returns the number
// of tasks spawned.
func (p *Pool) ColdStart() int {
	initial := p.cfg.InitialPoint()
	for _, name := range p.cfg.TaskNames() {
		def, _ := p.cfg.TaskDef(name)
		first, ok := def.FirstPoint(initial)
		if !ok {
			continue
		}
		if p.parentless(def.ParentPoints(first)) {
			p.RequestSpawn(name, first)
		}
	}
	return p.ProcessSpawnRequests()
}

// outputDone records a newly completed output of t: absolute triggers
// waiting on it are satisfied now and for any later spawn, then its
// children are requested.
func (p *Pool) outputDone(t *task.Proxy, output string) {
	for _, c := range p.cfg.Children(t.Name, output, t.Point) {
		if !c.Absolute {
			continue
		}
		key := t.ID() + ":" + output
		if !p.absDone[key] {
			p.absDone[key] = true
			p.absDirty = true
			for _, other := range p.AllTasks() {
				other.SatisfyMe(key)
			}
		}
		break
	}
	p.SpawnOnOutput(t, output)
}
