package pool

import (
	"maps"
	"slices"
	"strings"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/task"
)

// AllTasks returns every task in both pools, ordered by point then name.
func (p *Pool) AllTasks() []*task.Proxy {
	hs := make([]Handle, 0, len(p.byID))
	for _, h := range p.byID {
		hs = append(hs, h)
	}
	return p.proxies(p.sorted(hs))
}

// Tasks returns the main-pool tasks, ordered by point then name.
func (p *Pool) Tasks() []*task.Proxy { return p.proxies(p.collect(p.mainByPoint)) }

// RunaheadTasks returns the runahead-pool tasks, ordered by point then
// name.
func (p *Pool) RunaheadTasks() []*task.Proxy { return p.proxies(p.collect(p.rhByPoint)) }

// TasksByPoint groups tasks by point, optionally including the runahead
// pool.
func (p *Pool) TasksByPoint(includeRunahead bool) map[cycling.Point][]*task.Proxy {
	out := map[cycling.Point][]*task.Proxy{}
	for pt, hs := range p.mainByPoint {
		out[pt] = append(out[pt], p.proxies(hs)...)
	}
	if includeRunahead {
		for pt, hs := range p.rhByPoint {
			out[pt] = append(out[pt], p.proxies(hs)...)
		}
	}
	return out
}

// Len returns the number of tasks in both pools.
func (p *Pool) Len() int { return len(p.byID) }

// Get returns the task name at point, or nil.
func (p *Pool) Get(name string, point cycling.Point) *task.Proxy {
	return p.GetByID(model.TaskID(name, point))
}

// GetByID returns the task with id "name.point", or nil.
func (p *Pool) GetByID(id string) *task.Proxy {
	if h, ok := p.byID[id]; ok {
		return p.proxy(h)
	}
	return nil
}

// IsRunahead reports whether t is waiting in the runahead pool.
func (p *Pool) IsRunahead(t *task.Proxy) bool {
	h, ok := p.handleOf(t)
	return ok && p.arena.at(h).runahead
}

// QueueOf returns the queue t sits in; runahead tasks have none.
func (p *Pool) QueueOf(t *task.Proxy) string {
	if h, ok := p.handleOf(t); ok {
		return p.arena.at(h).queue
	}
	return ""
}

func pointBound(m map[cycling.Point][]Handle, less func(a, b cycling.Point) bool) (cycling.Point, bool) {
	var best cycling.Point
	found := false
	for pt := range m {
		if !found || less(pt, best) {
			best, found = pt, true
		}
	}
	return best, found
}

// MinPoint returns the earliest point in the main pool.
func (p *Pool) MinPoint() (cycling.Point, bool) {
	return pointBound(p.mainByPoint, func(a, b cycling.Point) bool { return a < b })
}

// MaxPoint returns the latest point in the main pool.
func (p *Pool) MaxPoint() (cycling.Point, bool) {
	return pointBound(p.mainByPoint, func(a, b cycling.Point) bool { return a > b })
}

// MaxPointRunahead returns the latest point in the runahead pool.
func (p *Pool) MaxPointRunahead() (cycling.Point, bool) {
	return pointBound(p.rhByPoint, func(a, b cycling.Point) bool { return a > b })
}

// IsStalled reports whether the main pool can make no further progress
// on its own: nothing is active or ready, and some task has failed or
// waits on prerequisites nobody will satisfy. Tasks beyond the stop point
// and spent tasks are ignored. A held pool is never stalled.
func (p *Pool) IsStalled() bool {
	if p.isHeld {
		return false
	}
	stalled := false
	for _, t := range p.Tasks() {
		if p.stopPoint != nil && t.Point > *p.stopPoint {
			continue
		}
		switch s := t.Status(); {
		case s.IsSpent():
			continue
		case s == model.StatusQueued || s.IsQueueActive() || s.IsRetrying():
			return false
		case s == model.StatusWaiting:
			if t.PrereqsSatisfied() && !t.IsHeld() {
				return false
			}
			stalled = true
		case s == model.StatusFailed && !t.FailureHandled, s == model.StatusSubmitFailed:
			stalled = true
		}
	}
	return stalled
}

// ReportStalledTaskDeps logs the unmet prerequisites of waiting tasks
// that are not simply waiting on another waiting task. It returns them
// keyed by task id.
func (p *Pool) ReportStalledTaskDeps() map[string][]string {
	unmet := map[string][]string{}
	for _, t := range p.Tasks() {
		if t.Status() != model.StatusWaiting || t.PrereqsSatisfied() {
			continue
		}
		unmet[t.ID()] = t.UnmetPrerequisites()
	}
	out := map[string][]string{}
	for id, keys := range unmet {
		var keep []string
		for _, key := range keys {
			parent, _, _ := strings.Cut(key, ":")
			if _, waiting := unmet[parent]; !waiting {
				keep = append(keep, key)
			}
		}
		if len(keep) > 0 {
			out[id] = keep
		}
	}
	for _, id := range slices.Sorted(maps.Keys(out)) {
		p.log.Warn("unmet prerequisites", "task", id, "prerequisites", strings.Join(out[id], ", "))
	}
	return out
}

// StopMode selects how the run shuts down.
type StopMode int

const (
	StopNone StopMode = iota
	// StopClean waits for active jobs to finish.
	StopClean
	// StopNow leaves active jobs behind but waits for event handlers.
	StopNow
	// StopNowNow stops at once.
	StopNowNow
)

// CanStop reports whether the run may stop under mode.
func (p *Pool) CanStop(mode StopMode) bool {
	switch mode {
	case StopNone:
		return false
	case StopNowNow:
		return true
	}
	for _, t := range p.AllTasks() {
		if t.PendingEventRetries > 0 {
			return false
		}
		if mode == StopClean && t.Status().IsQueueActive() && !t.KillFailed {
			return false
		}
	}
	return true
}

// CheckAutoShutdown reports whether the run has finished: every task up
// to the stop point is spent with no event handlers in flight. Tasks
// held for a future trigger beyond the stop point do not count.
func (p *Pool) CheckAutoShutdown() bool {
	for _, t := range p.AllTasks() {
		if p.stopPoint == nil {
			if !isSpent(t) || t.PendingEventRetries > 0 {
				return false
			}
			continue
		}
		if t.Point > *p.stopPoint || p.heldFuture[t.ID()] {
			continue
		}
		if !isSpent(t) || t.PendingEventRetries > 0 {
			return false
		}
	}
	return true
}

// WarnStopOrphans logs tasks left behind by a shutdown: active jobs and
// event handlers still running.
func (p *Pool) WarnStopOrphans() {
	for _, t := range p.AllTasks() {
		if t.Status().IsQueueActive() {
			p.log.Warn("orphaned task", "task", t.ID(), "status", t.Status().String())
		}
		if t.PendingEventRetries > 0 {
			p.log.Warn("event handlers still pending", "task", t.ID(), "handlers", t.PendingEventRetries)
		}
	}
}
