// Package suite loads the task definition graph of a workflow.
//
// A suite file is YAML. Its scheduling section names the initial and
// final cycle points, the runahead policy, named queues and the
// dependency graph, keyed by recurrence expression. Its runtime section
// carries per-task job settings. The result is an immutable Config that is
// replaced wholesale on reload.
package suite

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

// DefaultQueue is the queue of tasks not assigned to a named queue.
const DefaultQueue = "default"

// DefaultRunaheadLimit is the count-limited runahead policy used when the
// suite sets neither a limit nor a custom interval.
const DefaultRunaheadLimit = 3

// ErrInvalid is wrapped by all configuration errors.
var ErrInvalid = errors.New("invalid suite")

// Queue is a named limited queue.
type Queue struct {
	Name    string
	Limit   int
	Members []string
}

// ChildRef is a downstream task instance reached through a graph edge.
type ChildRef struct {
	Name    string
	Point   cycling.Point
	Output  string
	Suicide bool

	// Absolute is set when the edge names a fixed parent point.
	Absolute bool
}

type edge struct {
	child   string
	trig    model.Trigger
	seq     *cycling.Sequence
	suicide bool
}

// Config is a loaded, validated suite.
type Config struct {
	Name string

	initial        cycling.Point
	final          *cycling.Point
	runaheadLimit  int
	customRunahead *cycling.Interval
	holdPoint      *cycling.Point
	epoch          time.Time
	cycleDuration  time.Duration

	tasks     map[string]*model.TaskDefinition
	names     []string
	queues    map[string]*Queue
	queueOf   map[string]string
	sequences []*cycling.Sequence
	edges     map[string][]edge
}

// InitialPoint returns the suite's initial cycle point.
func (c *Config) InitialPoint() cycling.Point { return c.initial }

// FinalPoint returns the suite's final cycle point, if it has one.
func (c *Config) FinalPoint() (cycling.Point, bool) {
	if c.final == nil {
		return 0, false
	}
	return *c.final, true
}

// RunaheadLimit is the number of sequence points the runahead window may
// span for the count-limited policy.
func (c *Config) RunaheadLimit() int { return c.runaheadLimit }

// CustomRunahead returns the duration-limited policy interval, if set.
func (c *Config) CustomRunahead() (cycling.Interval, bool) {
	if c.customRunahead == nil {
		return 0, false
	}
	return *c.customRunahead, true
}

// HoldPoint returns the configured "hold after point", if any.
func (c *Config) HoldPoint() (cycling.Point, bool) {
	if c.holdPoint == nil {
		return 0, false
	}
	return *c.holdPoint, true
}

// PointTime maps p onto the wall clock: the cycle epoch plus p cycle
// durations. Expiration offsets are measured against it.
func (c *Config) PointTime(p cycling.Point) time.Time {
	return c.epoch.Add(time.Duration(p) * c.cycleDuration)
}

// TaskNames returns the defined task names, sorted.
func (c *Config) TaskNames() []string { return slices.Clone(c.names) }

// TaskDef returns the definition of name.
func (c *Config) TaskDef(name string) (*model.TaskDefinition, bool) {
	d, ok := c.tasks[name]
	return d, ok
}

// Sequences returns every distinct sequence in the graph.
func (c *Config) Sequences() []*cycling.Sequence { return c.sequences }

// QueueOf returns the queue a task belongs to.
func (c *Config) QueueOf(name string) string {
	if q, ok := c.queueOf[name]; ok {
		return q
	}
	return DefaultQueue
}

// QueueLimit returns the active-task limit of queue; zero means
// unlimited.
func (c *Config) QueueLimit(queue string) int {
	if q, ok := c.queues[queue]; ok {
		return q.Limit
	}
	return 0
}

// Queues returns the queue names, sorted, always including the default.
func (c *Config) Queues() []string {
	out := make([]string, 0, len(c.queues))
	for name := range c.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Children returns the task instances downstream of parent at point p
// through output. An empty output selects the children of every output.
// A sequential task's next instance is a child of its succeeded output.
func (c *Config) Children(parent, output string, p cycling.Point) []ChildRef {
	var out []ChildRef
	add := func(ref ChildRef) {
		if !slices.Contains(out, ref) {
			out = append(out, ref)
		}
	}
	for _, e := range c.edges[parent] {
		if output != "" && e.trig.Output != output {
			continue
		}
		var cp cycling.Point
		if e.trig.Absolute {
			if e.trig.AbsPoint != p {
				continue
			}
			first, ok := e.seq.FirstPoint(c.initial)
			if !ok {
				continue
			}
			cp = first
		} else {
			cp = p.Add(-e.trig.Offset)
			if !e.seq.IsValid(cp) {
				continue
			}
		}
		add(ChildRef{Name: e.child, Point: cp, Output: e.trig.Output, Suicide: e.suicide, Absolute: e.trig.Absolute})
	}
	if d, ok := c.tasks[parent]; ok && d.Sequential && (output == "" || output == model.OutputSucceeded) {
		if next, ok := d.NextPoint(p); ok {
			add(ChildRef{Name: parent, Point: next, Output: model.OutputSucceeded})
		}
	}
	return out
}

// build validates a decoded suite and assembles the task definitions.
func build(raw rawSuite) (*Config, error) {
	c := &Config{
		Name:          raw.Name,
		runaheadLimit: DefaultRunaheadLimit,
		epoch:         time.Unix(0, 0).UTC(),
		cycleDuration: time.Second,
		tasks:         map[string]*model.TaskDefinition{},
		queues:        map[string]*Queue{DefaultQueue: {Name: DefaultQueue}},
		queueOf:       map[string]string{},
		edges:         map[string][]edge{},
	}
	sch := raw.Scheduling

	if sch.InitialPoint == "" {
		return nil, fmt.Errorf("%w: initial cycle point is required", ErrInvalid)
	}
	ip, err := cycling.ParsePoint(string(sch.InitialPoint))
	if err != nil {
		return nil, fmt.Errorf("%w: initial cycle point: %v", ErrInvalid, err)
	}
	c.initial = ip
	if sch.FinalPoint != "" {
		fp, err := cycling.PointRelative(string(sch.FinalPoint), ip)
		if err != nil {
			return nil, fmt.Errorf("%w: final cycle point: %v", ErrInvalid, err)
		}
		if fp < ip {
			return nil, fmt.Errorf("%w: final cycle point %v is before initial cycle point %v", ErrInvalid, fp, ip)
		}
		c.final = &fp
	}
	if sch.RunaheadLimit != nil {
		if *sch.RunaheadLimit < 1 {
			return nil, fmt.Errorf("%w: runahead limit must be at least 1", ErrInvalid)
		}
		c.runaheadLimit = *sch.RunaheadLimit
	}
	if sch.CustomRunahead != "" {
		i, err := cycling.ParseInterval(string(sch.CustomRunahead))
		if err != nil {
			return nil, fmt.Errorf("%w: custom runahead: %v", ErrInvalid, err)
		}
		c.customRunahead = &i
	}
	if sch.HoldAfterPoint != "" {
		hp, err := cycling.PointRelative(string(sch.HoldAfterPoint), ip)
		if err != nil {
			return nil, fmt.Errorf("%w: hold after point: %v", ErrInvalid, err)
		}
		c.holdPoint = &hp
	}

	if sch.CycleEpoch != "" {
		t, err := time.Parse(time.RFC3339, string(sch.CycleEpoch))
		if err != nil {
			return nil, fmt.Errorf("%w: cycle epoch: %v", ErrInvalid, err)
		}
		c.epoch = t
	}
	if sch.CycleDuration < 0 {
		return nil, fmt.Errorf("%w: cycle duration must not be negative", ErrInvalid)
	}
	if sch.CycleDuration > 0 {
		c.cycleDuration = time.Duration(sch.CycleDuration)
	}

	if len(sch.Graph) == 0 {
		return nil, fmt.Errorf("%w: graph is empty", ErrInvalid)
	}
	recurrences := make([]string, 0, len(sch.Graph))
	for r := range sch.Graph {
		recurrences = append(recurrences, r)
	}
	sort.Strings(recurrences)
	for _, r := range recurrences {
		seq, err := cycling.ParseSequence(r, c.initial, c.final)
		if err != nil {
			return nil, fmt.Errorf("%w: graph %q: %v", ErrInvalid, r, err)
		}
		seq = c.internSequence(seq)
		for _, line := range graphLines(sch.Graph[r]) {
			if err := c.addGraphLine(seq, line); err != nil {
				return nil, fmt.Errorf("graph %q: %w", r, err)
			}
		}
	}

	for name, d := range c.tasks {
		if len(d.Sequences) == 0 {
			return nil, fmt.Errorf("%w: task %s is only used with offsets and has no sequence of its own", ErrInvalid, name)
		}
	}

	for _, name := range sch.Sequential {
		d, ok := c.tasks[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sequential task %s", ErrInvalid, name)
		}
		d.Sequential = true
	}

	qnames := make([]string, 0, len(sch.Queues))
	for qn := range sch.Queues {
		qnames = append(qnames, qn)
	}
	sort.Strings(qnames)
	for _, qn := range qnames {
		rq := sch.Queues[qn]
		if rq.Limit < 0 {
			return nil, fmt.Errorf("%w: queue %s: negative limit", ErrInvalid, qn)
		}
		q, ok := c.queues[qn]
		if !ok {
			q = &Queue{Name: qn}
			c.queues[qn] = q
		}
		q.Limit = rq.Limit
		for _, m := range rq.Members {
			if _, ok := c.tasks[m]; !ok {
				return nil, fmt.Errorf("%w: queue %s: unknown task %s", ErrInvalid, qn, m)
			}
			if prev, dup := c.queueOf[m]; dup {
				return nil, fmt.Errorf("%w: task %s is in queues %s and %s", ErrInvalid, m, prev, qn)
			}
			c.queueOf[m] = qn
			q.Members = append(q.Members, m)
		}
	}

	for name, rt := range raw.Runtime {
		d, ok := c.tasks[name]
		if !ok {
			return nil, fmt.Errorf("%w: runtime for undefined task %s", ErrInvalid, name)
		}
		d.Script = rt.Script
		d.RetryDelays = durations(rt.RetryDelays)
		d.SubmitRetryDelays = durations(rt.SubmitRetryDelays)
		d.SubmissionTimeout = time.Duration(rt.SubmissionTimeout)
		d.ExecutionTimeout = time.Duration(rt.ExecutionTimeout)
		d.EventHandlers = rt.EventHandlers
		d.Outputs = rt.Outputs
		if rt.ExpirationOffset != "" {
			i, err := cycling.ParseInterval(string(rt.ExpirationOffset))
			if err != nil {
				return nil, fmt.Errorf("%w: task %s: expiration offset: %v", ErrInvalid, name, err)
			}
			d.ExpirationOffset = &i
		}
	}

	for name, d := range c.tasks {
		d.Queue = c.QueueOf(name)
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	c.computeOffsets()
	return c, nil
}

// internSequence returns an existing equal sequence, or registers seq.
func (c *Config) internSequence(seq *cycling.Sequence) *cycling.Sequence {
	for _, s := range c.sequences {
		if s.Equal(seq) {
			return s
		}
	}
	c.sequences = append(c.sequences, seq)
	return seq
}

// define returns the definition of name, creating it if needed.
func (c *Config) define(name string) *model.TaskDefinition {
	d, ok := c.tasks[name]
	if !ok {
		d = &model.TaskDefinition{Name: name}
		c.tasks[name] = d
	}
	return d
}

func addSequence(d *model.TaskDefinition, seq *cycling.Sequence) {
	for _, s := range d.Sequences {
		if s == seq {
			return
		}
	}
	d.Sequences = append(d.Sequences, seq)
}

func (c *Config) addGraphLine(seq *cycling.Sequence, line string) error {
	parts, err := parseGraphLine(line, c.initial)
	if err != nil {
		return err
	}
	// Plain nodes on the left of an arrow, or alone on a line, run on the
	// section's sequence too.
	for _, part := range parts {
		for _, it := range part.items {
			d := c.define(it.name)
			if it.offset == "" {
				addSequence(d, seq)
			}
		}
	}
	for i := 1; i < len(parts); i++ {
		lhs, rhs := parts[i-1], parts[i]
		trigs := make([]model.Trigger, 0, len(lhs.items))
		for _, it := range lhs.items {
			trigs = append(trigs, it.trigger())
		}
		for _, child := range rhs.items {
			d := c.define(child.name)
			d.Dependencies = append(d.Dependencies, model.Dependency{
				Sequence: seq,
				Triggers: slices.Clone(trigs),
				Any:      lhs.any,
				Suicide:  child.suicide,
			})
			for _, t := range trigs {
				c.edges[t.Task] = append(c.edges[t.Task], edge{
					child:   child.name,
					trig:    t,
					seq:     seq,
					suicide: child.suicide,
				})
			}
		}
	}
	return nil
}

// computeOffsets derives each task's cleanup offset from the edges
// pointing at it, and its max future prerequisite offset from its own.
func (c *Config) computeOffsets() {
	for parent, edges := range c.edges {
		pd := c.tasks[parent]
		for _, e := range edges {
			if e.trig.Absolute {
				continue
			}
			if back := -e.trig.Offset; back > pd.CleanupOffset {
				pd.CleanupOffset = back
			}
			if e.trig.Offset > 0 {
				cd := c.tasks[e.child]
				if cd.MaxFutureOffset == nil || e.trig.Offset > *cd.MaxFutureOffset {
					off := e.trig.Offset
					cd.MaxFutureOffset = &off
				}
			}
		}
	}
}

// Describe returns a one-line summary of a task definition, for the CLI.
func (c *Config) Describe(name string) string {
	d, ok := c.tasks[name]
	if !ok {
		return name + " (undefined)"
	}
	seqs := make([]string, len(d.Sequences))
	for i, s := range d.Sequences {
		seqs[i] = s.String()
	}
	var flags []string
	if d.Sequential {
		flags = append(flags, "sequential")
	}
	if d.ExpirationOffset != nil {
		flags = append(flags, "expires "+d.ExpirationOffset.String())
	}
	s := fmt.Sprintf("%s [%s] queue=%s", name, strings.Join(seqs, ", "), d.Queue)
	if len(flags) > 0 {
		s += " (" + strings.Join(flags, ", ") + ")"
	}
	return s
}
