package model

import (
	"slices"
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
)

// Trigger is one edge of the dependency graph: the named parent must
// complete Output at the point the edge resolves to.
type Trigger struct {
	Task   string `json:"task"`
	Output string `json:"output"`

	// Offset is relative to the child's point ("-P1" means the previous
	// cycle). Ignored for absolute triggers.
	Offset cycling.Interval `json:"offset,omitempty"`

	// Absolute triggers name a fixed parent point ("prep[^]").
	Absolute bool          `json:"absolute,omitempty"`
	AbsPoint cycling.Point `json:"abs_point,omitempty"`
}

// ParentPoint resolves the trigger's parent point for a child at child.
func (t Trigger) ParentPoint(child cycling.Point) cycling.Point {
	if t.Absolute {
		return t.AbsPoint
	}
	return child.Add(t.Offset)
}

// Key returns the prerequisite key "name.point:output" for a child at
// child.
func (t Trigger) Key(child cycling.Point) string {
	return TaskID(t.Task, t.ParentPoint(child)) + ":" + t.Output
}

// Dependency is a set of triggers that together gate a task on one
// sequence. Any selects OR semantics, otherwise every trigger must be
// satisfied. A suicide dependency removes the task instead of running it.
type Dependency struct {
	Sequence *cycling.Sequence
	Triggers []Trigger
	Any      bool
	Suicide  bool
}

// TaskDefinition is the static, per-name description of a task loaded
// from the suite.
type TaskDefinition struct {
	Name         string
	Sequences    []*cycling.Sequence
	Dependencies []Dependency
	Queue        string
	Sequential   bool

	// ExpirationOffset, when set, expires a waiting task once the clock
	// passes point + offset.
	ExpirationOffset *cycling.Interval

	// MaxFutureOffset is the largest positive offset among this task's
	// prerequisites, if any.
	MaxFutureOffset *cycling.Interval

	// CleanupOffset is how far ahead of a task's point its children may
	// still need its outputs.
	CleanupOffset cycling.Interval

	Script            string
	RetryDelays       []time.Duration
	SubmitRetryDelays []time.Duration
	SubmissionTimeout time.Duration
	ExecutionTimeout  time.Duration
	EventHandlers     []string
	Outputs           []string
}

// IsValidPoint reports whether any of the task's sequences is valid at p.
func (d *TaskDefinition) IsValidPoint(p cycling.Point) bool {
	for _, s := range d.Sequences {
		if s.IsValid(p) {
			return true
		}
	}
	return false
}

// FirstPoint returns the earliest valid point at or after from.
func (d *TaskDefinition) FirstPoint(from cycling.Point) (cycling.Point, bool) {
	var best cycling.Point
	found := false
	for _, s := range d.Sequences {
		if p, ok := s.FirstPoint(from); ok && (!found || p < best) {
			best, found = p, true
		}
	}
	return best, found
}

// NextPoint returns the earliest valid point after p across all of the
// task's sequences.
func (d *TaskDefinition) NextPoint(p cycling.Point) (cycling.Point, bool) {
	var best cycling.Point
	found := false
	for _, s := range d.Sequences {
		if n, ok := s.NextPoint(p); ok && (!found || n < best) {
			best, found = n, true
		}
	}
	return best, found
}

// PrevPoint returns the latest valid point before p across all of the
// task's sequences.
func (d *TaskDefinition) PrevPoint(p cycling.Point) (cycling.Point, bool) {
	var best cycling.Point
	found := false
	for _, s := range d.Sequences {
		if n, ok := s.NearestPrevPoint(p); ok && (!found || n > best) {
			best, found = n, true
		}
	}
	return best, found
}

// DependenciesAt returns the dependencies whose sequence is valid at p.
func (d *TaskDefinition) DependenciesAt(p cycling.Point) []Dependency {
	var out []Dependency
	for _, dep := range d.Dependencies {
		if dep.Sequence == nil || dep.Sequence.IsValid(p) {
			out = append(out, dep)
		}
	}
	return out
}

// ParentPoints returns the distinct points of relative, non-suicide
// parents of the instance at p, in ascending order.
func (d *TaskDefinition) ParentPoints(p cycling.Point) []cycling.Point {
	var pts []cycling.Point
	for _, dep := range d.DependenciesAt(p) {
		if dep.Suicide {
			continue
		}
		for _, t := range dep.Triggers {
			if t.Absolute {
				continue
			}
			pp := t.ParentPoint(p)
			if !slices.Contains(pts, pp) {
				pts = append(pts, pp)
			}
		}
	}
	slices.Sort(pts)
	return pts
}

// AbsTriggers returns the absolute, non-suicide triggers of the instance
// at p.
func (d *TaskDefinition) AbsTriggers(p cycling.Point) []Trigger {
	var out []Trigger
	for _, dep := range d.DependenciesAt(p) {
		if dep.Suicide {
			continue
		}
		for _, t := range dep.Triggers {
			if t.Absolute {
				out = append(out, t)
			}
		}
	}
	return out
}

// CleanupCutoff is the point at which the instance at p is no longer
// needed by any child. Sequential tasks are needed until their next
// instance exists.
func (d *TaskDefinition) CleanupCutoff(p cycling.Point) cycling.Point {
	cutoff := p.Add(d.CleanupOffset)
	if d.Sequential {
		if next, ok := d.NextPoint(p); ok && next > cutoff {
			cutoff = next
		}
	}
	return cutoff
}

// HasFutureTriggers reports whether any prerequisite of the task points
// ahead of the task itself.
func (d *TaskDefinition) HasFutureTriggers() bool {
	return d.MaxFutureOffset != nil && *d.MaxFutureOffset > 0
}
