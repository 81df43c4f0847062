package task

import (
	"slices"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

// Edge is one trigger of a prerequisite resolved to a concrete parent
// instance.
type Edge struct {
	Task      string
	Point     cycling.Point
	Output    string
	Satisfied bool

	// preset edges point before the initial cycle point. They can never be
	// matched by a parent and stay satisfied across resets.
	preset bool
}

// Key is the "name.point:output" form used by the broker and commands.
func (e Edge) Key() string { return model.TaskID(e.Task, e.Point) + ":" + e.Output }

// Prerequisite is a group of edges combined with AND, or OR when Any is
// set.
type Prerequisite struct {
	Any   bool
	edges []Edge
	index map[string]int
}

func newPrerequisite(anyOf bool) *Prerequisite {
	return &Prerequisite{Any: anyOf, index: map[string]int{}}
}

func (p *Prerequisite) add(e Edge) {
	k := e.Key()
	if i, ok := p.index[k]; ok {
		p.edges[i].Satisfied = p.edges[i].Satisfied || e.Satisfied
		return
	}
	p.index[k] = len(p.edges)
	p.edges = append(p.edges, e)
}

// Edges returns a copy of the prerequisite's edges.
func (p *Prerequisite) Edges() []Edge { return slices.Clone(p.edges) }

// IsSatisfied reports whether the prerequisite as a whole is met.
func (p *Prerequisite) IsSatisfied() bool {
	if len(p.edges) == 0 {
		return true
	}
	for _, e := range p.edges {
		if e.Satisfied == p.Any {
			return p.Any
		}
	}
	return !p.Any
}

// SatisfyMe marks the edge with key as satisfied. It reports whether the
// edge exists and was previously unsatisfied.
func (p *Prerequisite) SatisfyMe(key string) bool {
	i, ok := p.index[key]
	if !ok || p.edges[i].Satisfied {
		return false
	}
	p.edges[i].Satisfied = true
	return true
}

// SetAll marks every edge satisfied or not. Edges to parents before the
// initial cycle point stay satisfied.
func (p *Prerequisite) SetAll(satisfied bool) {
	for i := range p.edges {
		p.edges[i].Satisfied = satisfied || p.edges[i].preset
	}
}

// Unmet returns the keys of unsatisfied edges.
func (p *Prerequisite) Unmet() []string {
	var out []string
	for _, e := range p.edges {
		if !e.Satisfied {
			out = append(out, e.Key())
		}
	}
	return out
}

// Satisfied returns the keys of satisfied edges.
func (p *Prerequisite) Satisfied() []string {
	var out []string
	for _, e := range p.edges {
		if e.Satisfied {
			out = append(out, e.Key())
		}
	}
	return out
}

// Outputs tracks which outputs of a task have completed, in definition
// order.
type Outputs struct {
	order     []string
	completed map[string]bool
}

func newOutputs(custom []string) *Outputs {
	o := &Outputs{completed: map[string]bool{}}
	for _, name := range model.StandardOutputs {
		o.order = append(o.order, name)
		o.completed[name] = false
	}
	for _, name := range custom {
		if _, ok := o.completed[name]; ok {
			continue
		}
		o.order = append(o.order, name)
		o.completed[name] = false
	}
	return o
}

// Has reports whether name is one of the task's outputs.
func (o *Outputs) Has(name string) bool {
	_, ok := o.completed[name]
	return ok
}

// IsCompleted reports whether name has completed.
func (o *Outputs) IsCompleted(name string) bool { return o.completed[name] }

// Set marks name complete or incomplete. It reports whether the value
// changed; unknown outputs are ignored.
func (o *Outputs) Set(name string, done bool) bool {
	cur, ok := o.completed[name]
	if !ok || cur == done {
		return false
	}
	o.completed[name] = done
	return true
}

// Completed returns the completed outputs in definition order.
func (o *Outputs) Completed() []string {
	var out []string
	for _, name := range o.order {
		if o.completed[name] {
			out = append(out, name)
		}
	}
	return out
}

// All returns every output name in definition order.
func (o *Outputs) All() []string { return slices.Clone(o.order) }

// SetAllIncomplete clears every output.
func (o *Outputs) SetAllIncomplete() {
	for name := range o.completed {
		o.completed[name] = false
	}
}

// setSuccess completes every output a successful run produces.
func (o *Outputs) setSuccess() {
	for name := range o.completed {
		switch name {
		case model.OutputFailed, model.OutputSubmitFailed, model.OutputExpired:
			o.completed[name] = false
		default:
			o.completed[name] = true
		}
	}
}
