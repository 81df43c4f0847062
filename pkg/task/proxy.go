// Package task implements the task proxy: one live instance of a task
// definition at a cycle point, with its prerequisites, completed outputs
// and lifecycle status.
//
// Proxies are plain data owned by the pool. Nothing here locks; every
// mutation happens on the scheduler goroutine.
package task

import (
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

// Proxy is a task instance keyed by (name, point).
type Proxy struct {
	Def   *model.TaskDefinition
	Name  string
	Point cycling.Point

	status model.Status
	held   bool
	dirty  bool

	// ManualTrigger lets the task bypass its queue limit once.
	ManualTrigger bool
	SubmitNum     int
	TryNum        int
	SubmitTryNum  int

	Prereqs        []*Prerequisite
	SuicidePrereqs []*Prerequisite

	// ParentsFinished maps parent ids ("name.point") to whether that
	// parent has finished.
	ParentsFinished map[string]bool

	// StopPoint, when set, stops the task spawning past that point.
	StopPoint *cycling.Point

	CleanupCutoff cycling.Point

	// FailureHandled is set when some child triggers off the failed
	// output, making failure a finish like success.
	FailureHandled bool

	KillFailed bool
	// NoSpawn marks orphans left behind by a reload.
	NoSpawn bool

	SubmissionDeadline time.Time
	ExecutionDeadline  time.Time
	RetryAt            time.Time

	// PendingEventRetries counts event handlers still being retried.
	PendingEventRetries int

	Outputs *Outputs

	expireTime    time.Time
	hasExpireTime bool
}

// New builds a waiting proxy for def at point. Edges to parents before
// initial are satisfied from the start. A sequential task also waits on
// its own previous instance succeeding.
func New(def *model.TaskDefinition, initial, point cycling.Point, submitNum int) *Proxy {
	p := &Proxy{
		Def:             def,
		Name:            def.Name,
		Point:           point,
		status:          model.StatusWaiting,
		SubmitNum:       submitNum,
		ParentsFinished: map[string]bool{},
		CleanupCutoff:   def.CleanupCutoff(point),
		Outputs:         newOutputs(def.Outputs),
		dirty:           true,
	}
	for _, dep := range def.DependenciesAt(point) {
		pre := newPrerequisite(dep.Any)
		for _, t := range dep.Triggers {
			pp := t.ParentPoint(point)
			before := pp < initial
			pre.add(Edge{Task: t.Task, Point: pp, Output: t.Output, Satisfied: before, preset: before})
			if !before && !dep.Suicide {
				p.ParentsFinished[model.TaskID(t.Task, pp)] = false
			}
		}
		if dep.Suicide {
			p.SuicidePrereqs = append(p.SuicidePrereqs, pre)
		} else {
			p.Prereqs = append(p.Prereqs, pre)
		}
	}
	if def.Sequential {
		if prev, ok := def.PrevPoint(point); ok && prev >= initial {
			pre := newPrerequisite(false)
			pre.add(Edge{Task: def.Name, Point: prev, Output: model.OutputSucceeded})
			p.Prereqs = append(p.Prereqs, pre)
			p.ParentsFinished[model.TaskID(def.Name, prev)] = false
		}
	}
	return p
}

// ID returns "name.point".
func (p *Proxy) ID() string { return model.TaskID(p.Name, p.Point) }

func (p *Proxy) String() string { return p.ID() }

// Status returns the current lifecycle status.
func (p *Proxy) Status() model.Status { return p.status }

// IsHeld reports whether the held flag is set.
func (p *Proxy) IsHeld() bool { return p.held }

// Dirty reports whether the proxy changed since the last ClearDirty.
func (p *Proxy) Dirty() bool { return p.dirty }

// ClearDirty is called after the proxy has been persisted.
func (p *Proxy) ClearDirty() { p.dirty = false }

// MarkDirty flags the proxy for the next persistence flush.
func (p *Proxy) MarkDirty() { p.dirty = true }

// SetStatus moves the proxy to s. It reports whether the status changed.
func (p *Proxy) SetStatus(s model.Status) bool {
	if p.status == s {
		return false
	}
	p.status = s
	p.dirty = true
	return true
}

// Hold sets the held flag. It reports whether the flag changed.
func (p *Proxy) Hold() bool {
	if p.held {
		return false
	}
	p.held = true
	p.dirty = true
	return true
}

// Release clears the held flag. It reports whether the flag changed.
func (p *Proxy) Release() bool {
	if !p.held {
		return false
	}
	p.held = false
	p.dirty = true
	return true
}

// ResetWaiting returns the task to waiting with its prerequisites and
// outputs cleared.
func (p *Proxy) ResetWaiting() {
	p.SetStatus(model.StatusWaiting)
	p.setPrereqs(false)
	p.Outputs.SetAllIncomplete()
	p.dirty = true
}

// ResetReady satisfies every prerequisite and returns the task to
// waiting, so that it is queued on the next pass.
func (p *Proxy) ResetReady() {
	p.SetStatus(model.StatusWaiting)
	p.setPrereqs(true)
	p.dirty = true
}

// ResetSucceeded marks the task succeeded with every success output
// complete.
func (p *Proxy) ResetSucceeded() {
	p.SetStatus(model.StatusSucceeded)
	p.setPrereqs(true)
	p.Outputs.setSuccess()
	p.dirty = true
}

// ResetFailed marks the task failed.
func (p *Proxy) ResetFailed() {
	p.SetStatus(model.StatusFailed)
	p.setPrereqs(true)
	p.Outputs.Set(model.OutputSucceeded, false)
	p.Outputs.Set(model.OutputFailed, true)
	p.dirty = true
}

// ResetExpired marks the task expired and releases any hold on it.
func (p *Proxy) ResetExpired() {
	p.SetStatus(model.StatusExpired)
	p.Release()
	p.Outputs.Set(model.OutputExpired, true)
	p.dirty = true
}

// SetPrerequisitesSatisfied satisfies every prerequisite edge.
func (p *Proxy) SetPrerequisitesSatisfied() {
	p.setPrereqs(true)
	p.dirty = true
}

func (p *Proxy) setPrereqs(satisfied bool) {
	for _, pre := range p.Prereqs {
		pre.SetAll(satisfied)
	}
}

// PrereqsSatisfied reports whether every regular prerequisite is met.
func (p *Proxy) PrereqsSatisfied() bool {
	for _, pre := range p.Prereqs {
		if !pre.IsSatisfied() {
			return false
		}
	}
	return true
}

// SuicideSatisfied reports whether the task has suicide prerequisites
// and all of them are met.
func (p *Proxy) SuicideSatisfied() bool {
	if len(p.SuicidePrereqs) == 0 {
		return false
	}
	for _, pre := range p.SuicidePrereqs {
		if !pre.IsSatisfied() {
			return false
		}
	}
	return true
}

// SatisfyMe satisfies the edge key in every prerequisite, regular and
// suicide. It reports whether anything changed.
func (p *Proxy) SatisfyMe(key string) bool {
	changed := false
	for _, pre := range p.Prereqs {
		if pre.SatisfyMe(key) {
			changed = true
		}
	}
	for _, pre := range p.SuicidePrereqs {
		if pre.SatisfyMe(key) {
			changed = true
		}
	}
	if changed {
		p.dirty = true
	}
	return changed
}

// HasUnsatisfied reports whether any regular or suicide edge is still
// open.
func (p *Proxy) HasUnsatisfied() bool {
	for _, pre := range p.Prereqs {
		if len(pre.Unmet()) > 0 {
			return true
		}
	}
	for _, pre := range p.SuicidePrereqs {
		if len(pre.Unmet()) > 0 {
			return true
		}
	}
	return false
}

// UnmetPrerequisites returns the keys of open regular edges.
func (p *Proxy) UnmetPrerequisites() []string {
	var out []string
	for _, pre := range p.Prereqs {
		out = append(out, pre.Unmet()...)
	}
	return out
}

// SatisfiedPrerequisites returns the keys of satisfied edges, regular
// and suicide, for persistence.
func (p *Proxy) SatisfiedPrerequisites() []string {
	var out []string
	for _, pre := range p.Prereqs {
		out = append(out, pre.Satisfied()...)
	}
	for _, pre := range p.SuicidePrereqs {
		out = append(out, pre.Satisfied()...)
	}
	return out
}

// TargetPoints returns the parent points of every regular edge.
func (p *Proxy) TargetPoints() []cycling.Point {
	var out []cycling.Point
	for _, pre := range p.Prereqs {
		for _, e := range pre.edges {
			out = append(out, e.Point)
		}
	}
	return out
}

// ReadyToRun reports whether a waiting task has all its prerequisites,
// or a retrying task's delay has elapsed.
func (p *Proxy) ReadyToRun(now time.Time) bool {
	switch {
	case p.status == model.StatusWaiting:
		return p.PrereqsSatisfied()
	case p.status.IsRetrying():
		return !now.Before(p.RetryAt)
	}
	return false
}

// ExpireTime returns the cached expiry instant, computing it with at on
// first use. ok is false when the task cannot expire.
func (p *Proxy) ExpireTime(at func(cycling.Point) time.Time) (time.Time, bool) {
	if p.Def.ExpirationOffset == nil {
		return time.Time{}, false
	}
	if !p.hasExpireTime {
		p.expireTime = at(p.Point.Add(*p.Def.ExpirationOffset))
		p.hasExpireTime = true
	}
	return p.expireTime, true
}

// CompleteOutput marks output complete. It reports whether it was newly
// completed.
func (p *Proxy) CompleteOutput(output string) bool {
	if p.Outputs.Set(output, true) {
		p.dirty = true
		return true
	}
	return false
}

// SetParentFinished records that parent id has finished.
func (p *Proxy) SetParentFinished(id string) {
	if _, ok := p.ParentsFinished[id]; ok {
		p.ParentsFinished[id] = true
	}
}

// AllParentsFinished reports whether the task has parents and every one
// of them has finished.
func (p *Proxy) AllParentsFinished() bool {
	if len(p.ParentsFinished) == 0 {
		return false
	}
	for _, done := range p.ParentsFinished {
		if !done {
			return false
		}
	}
	return true
}

// CopyStateFrom carries runtime state over from an older proxy of the
// same instance, as on reload.
func (p *Proxy) CopyStateFrom(old *Proxy) {
	p.status = old.status
	p.held = old.held
	p.ManualTrigger = old.ManualTrigger
	p.SubmitNum = old.SubmitNum
	p.TryNum = old.TryNum
	p.SubmitTryNum = old.SubmitTryNum
	p.StopPoint = old.StopPoint
	p.KillFailed = old.KillFailed
	p.SubmissionDeadline = old.SubmissionDeadline
	p.ExecutionDeadline = old.ExecutionDeadline
	p.RetryAt = old.RetryAt
	p.PendingEventRetries = old.PendingEventRetries
	for _, key := range old.SatisfiedPrerequisites() {
		p.SatisfyMe(key)
	}
	for _, out := range old.Outputs.Completed() {
		p.Outputs.Set(out, true)
	}
	for id, done := range old.ParentsFinished {
		if done {
			p.SetParentFinished(id)
		}
	}
	p.dirty = true
}

// Restore applies persisted state: held flag, satisfied edges and
// completed outputs.
func (p *Proxy) Restore(status model.Status, held bool, satisfied, outputs []string) {
	p.status = status
	p.held = held
	for _, key := range satisfied {
		p.SatisfyMe(key)
	}
	for _, out := range outputs {
		p.Outputs.Set(out, true)
	}
}
