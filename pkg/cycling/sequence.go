package cycling

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrBadRecurrence is returned when an expression matches none of the
	// recurrence forms.
	ErrBadRecurrence = errors.New("bad integer cycling format")

	// ErrNegativeInterval is returned for sequences that would step
	// backwards.
	ErrNegativeInterval = errors.New("negative intervals not supported")

	// ErrMissingContext is returned when an expression needs a context
	// stop point (final cycle point) that was not given.
	ErrMissingContext = errors.New("missing context cycle point")

	// ErrBadExclusion is returned for malformed "!point" exclusions.
	ErrBadExclusion = errors.New("bad sequence exclusion")
)

// rule selects how the matched components are resolved into a concrete
// start, stop and step.
type rule int

const (
	ruleExplicitRange rule = iota + 1 // R<n>/START/END
	ruleStartPeriod                   // [R<n>/]START/INTV
	rulePeriodEnd                     // [R<n>/]INTV/END
)

type recurrence struct {
	re   *regexp.Regexp
	rule rule
}

const (
	reStart = `(?P<start>[^PR/][^/]*)`
	reEnd   = `(?P<end>[^PR/][^/]*)`
	reIntv  = `(?P<intv>P[^/]*)`
	reReps  = `R(?P<reps>\d+)`
)

// recurrences is ordered: the first match wins.
var recurrences = []recurrence{
	{regexp.MustCompile(`^` + reReps + `/` + reStart + `/` + reEnd + `$`), ruleExplicitRange},
	{regexp.MustCompile(`^` + reStart + `/` + reIntv + `/?$`), ruleStartPeriod},
	{regexp.MustCompile(`^` + reIntv + `$`), ruleStartPeriod},
	{regexp.MustCompile(`^` + reIntv + `/` + reEnd + `$`), rulePeriodEnd},
	{regexp.MustCompile(`^R1?/` + reStart + `/?$`), ruleStartPeriod},
	{regexp.MustCompile(`^R(?P<reps>\d+)?/` + reStart + `/` + reIntv + `$`), ruleStartPeriod},
	{regexp.MustCompile(`^R(?P<reps>\d+)?//` + reIntv + `$`), ruleStartPeriod},
	{regexp.MustCompile(`^R(?P<reps>\d+)?/` + reIntv + `/` + reEnd + `$`), rulePeriodEnd},
	{regexp.MustCompile(`^R(?P<reps>\d+)?/` + reIntv + `/?$`), rulePeriodEnd},
	{regexp.MustCompile(`^R1/?$`), ruleStartPeriod},
	{regexp.MustCompile(`^R1//` + reEnd + `$`), rulePeriodEnd},
}

// Sequence is a recurrence of integer cycle points. A sequence without a
// step contains exactly one point.
type Sequence struct {
	expr string

	start   Point
	stop    Point
	hasStop bool
	step    Interval

	exclusion    Point
	hasExclusion bool
}

// ParseSequence resolves a recurrence expression against the context
// start point (usually the initial cycle point) and an optional context
// stop point (usually the final cycle point).
func ParseSequence(expr string, ctxStart Point, ctxStop *Point) (*Sequence, error) {
	s := &Sequence{expr: expr}

	body := strings.TrimSpace(expr)
	if strings.Contains(body, "!") {
		parts := strings.Split(body, "!")
		if len(parts) > 2 {
			return nil, fmt.Errorf("%w: %q: more than one exclusion", ErrBadExclusion, expr)
		}
		body = strings.TrimSpace(parts[0])
		excl := strings.TrimSpace(parts[1])
		if excl == "" || strings.Contains(excl, "/") {
			return nil, fmt.Errorf("%w: %q", ErrBadExclusion, expr)
		}
		p, err := PointRelative(excl, ctxStart)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadExclusion, expr, err)
		}
		s.exclusion, s.hasExclusion = p, true
	}

	var (
		matched                 rule
		startStr, endStr, intvS string
		reps                    = -1
	)
	for _, rec := range recurrences {
		m := rec.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		matched = rec.rule
		for i, name := range rec.re.SubexpNames() {
			switch name {
			case "start":
				startStr = m[i]
			case "end":
				endStr = m[i]
			case "intv":
				intvS = m[i]
			case "reps":
				if m[i] != "" {
					n, err := strconv.Atoi(m[i])
					if err != nil {
						return nil, fmt.Errorf("%w: %q", ErrBadRecurrence, expr)
					}
					reps = n
				}
			}
		}
		break
	}
	if matched == 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadRecurrence, expr)
	}

	// START defaults to the context start; END to the context stop.
	s.start = ctxStart
	if startStr != "" {
		p, err := PointRelative(startStr, ctxStart)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadRecurrence, expr, err)
		}
		s.start = p
	}
	if endStr != "" {
		base := ctxStart
		if ctxStop != nil {
			base = *ctxStop
		}
		p, err := PointRelative(endStr, base)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadRecurrence, expr, err)
		}
		s.stop, s.hasStop = p, true
	} else if ctxStop != nil {
		s.stop, s.hasStop = *ctxStop, true
	}
	if (matched == ruleExplicitRange || matched == rulePeriodEnd) && !s.hasStop {
		return nil, fmt.Errorf("%w: %q needs a final cycle point", ErrMissingContext, expr)
	}

	var intv Interval
	if intvS != "" {
		i, err := ParseInterval(intvS)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadRecurrence, expr, err)
		}
		intv = i
	}

	switch matched {
	case ruleStartPeriod:
		switch {
		case intv.IsNull() || (reps >= 0 && reps <= 1):
			s.step = Null
			s.stop, s.hasStop = s.start, true
		case reps > 1:
			s.step = intv
			s.stop, s.hasStop = s.start.Add(intv.Mul(int64(reps-1))), true
		case ctxStop != nil && intv > 0:
			s.step = intv
			s.stop = *ctxStop - Point(mod(int64(*ctxStop-s.start), int64(intv)))
		default:
			s.step = intv
		}
	case ruleExplicitRange:
		switch {
		case reps == 1:
			s.step = Null
			s.stop = s.start
		case reps < 1:
			return nil, fmt.Errorf("%w: %q: R%d", ErrBadRecurrence, expr, reps)
		default:
			s.step = Interval(int64(s.stop-s.start) / int64(reps-1))
		}
	case rulePeriodEnd:
		switch {
		case intv.IsNull() || (reps >= 0 && reps <= 1):
			s.step = Null
			s.start = s.stop
		case reps > 1:
			s.step = intv
			s.start = s.stop.Add(-intv.Mul(int64(reps - 1)))
		default:
			s.step = intv
			if intv > 0 {
				// Count back from the stop point to the first point on or
				// after the context start.
				s.start = ctxStart + Point(mod(int64(s.stop-ctxStart), int64(intv)))
			}
		}
	}

	if s.step < 0 {
		return nil, fmt.Errorf("%w: %q (%s)", ErrNegativeInterval, expr, s.step)
	}

	if !s.step.IsNull() && s.start < ctxStart {
		// Start from the first on-sequence point >= context start.
		s.start = ctxStart + Point(mod(int64(s.start-ctxStart), int64(s.step)))
	}
	if !s.step.IsNull() && s.hasStop && ctxStop != nil && s.stop > *ctxStop {
		// Stop at the last on-sequence point <= context stop.
		s.stop = *ctxStop - Point(mod(int64(*ctxStop-s.start), int64(s.step)))
	}
	return s, nil
}

// MustParseSequence is like ParseSequence but panics on error. It is
// meant for tests and static tables.
func MustParseSequence(expr string, ctxStart Point, ctxStop *Point) *Sequence {
	s, err := ParseSequence(expr, ctxStart, ctxStop)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the expression the sequence was parsed from.
func (s *Sequence) String() string { return s.expr }

// Interval returns the step, or Null for a one-off sequence.
func (s *Sequence) Interval() Interval { return s.step }

// IsOneOff reports whether the sequence has no step.
func (s *Sequence) IsOneOff() bool { return s.step.IsNull() }

// Exclusion returns the excluded point, if any.
func (s *Sequence) Exclusion() (Point, bool) { return s.exclusion, s.hasExclusion }

func (s *Sequence) excluded(p Point) bool {
	return s.hasExclusion && p == s.exclusion
}

func (s *Sequence) inBounds(p Point) bool {
	return p >= s.start && (!s.hasStop || p <= s.stop)
}

// IsOnSequence reports whether p lies on the sequence, disregarding the
// start and stop bounds.
func (s *Sequence) IsOnSequence(p Point) bool {
	if s.excluded(p) {
		return false
	}
	if s.step.IsNull() {
		return p == s.start
	}
	return mod(int64(p-s.start), int64(s.step)) == 0
}

// IsValid reports whether p is on the sequence and within its bounds.
func (s *Sequence) IsValid(p Point) bool {
	return s.IsOnSequence(p) && s.inBounds(p)
}

// PrevPoint returns the on-sequence point before p, or false if that
// point is out of bounds or the sequence is a one-off.
func (s *Sequence) PrevPoint(p Point) (Point, bool) {
	if s.step.IsNull() {
		return 0, false
	}
	i := mod(int64(p-s.start), int64(s.step))
	prev := p - Point(s.step)
	if i != 0 {
		prev = p - Point(i)
	}
	if !s.inBounds(prev) {
		return 0, false
	}
	if s.excluded(prev) {
		return s.PrevPoint(prev)
	}
	return prev, true
}

// NearestPrevPoint returns the largest valid point strictly before an
// arbitrary point p.
func (s *Sequence) NearestPrevPoint(p Point) (Point, bool) {
	if s.IsOnSequence(p) {
		return s.PrevPoint(p)
	}
	if p <= s.start {
		return 0, false
	}
	var cand Point
	if s.step.IsNull() {
		cand = s.start
	} else {
		i := mod(int64(p-s.start), int64(s.step))
		cand = p - Point(i)
		if i == 0 {
			cand = p - Point(s.step)
		}
		if s.hasStop && cand > s.stop {
			cand = s.stop - Point(mod(int64(s.stop-s.start), int64(s.step)))
		}
	}
	if !s.inBounds(cand) {
		return 0, false
	}
	if s.excluded(cand) {
		return s.NearestPrevPoint(cand)
	}
	return cand, true
}

// NextPoint returns the first valid point strictly after p, or false if
// there is none within bounds.
func (s *Sequence) NextPoint(p Point) (Point, bool) {
	if s.step.IsNull() {
		if p < s.start && !s.excluded(s.start) {
			return s.start, true
		}
		return 0, false
	}
	var next Point
	if p < s.start {
		next = s.start
	} else {
		i := mod(int64(p-s.start), int64(s.step))
		next = p + Point(s.step) - Point(i)
	}
	if !s.inBounds(next) {
		return 0, false
	}
	if s.excluded(next) {
		return s.NextPoint(next)
	}
	return next, true
}

// NextPointOnSequence returns p plus one step, assuming p is already on
// the sequence.
func (s *Sequence) NextPointOnSequence(p Point) (Point, bool) {
	if s.step.IsNull() {
		return 0, false
	}
	next := p.Add(s.step)
	if !s.inBounds(next) {
		return 0, false
	}
	if s.excluded(next) {
		return s.NextPointOnSequence(next)
	}
	return next, true
}

// FirstPoint returns the first valid point >= p.
func (s *Sequence) FirstPoint(p Point) (Point, bool) {
	var (
		first Point
		ok    bool
	)
	switch {
	case p <= s.start:
		first, ok = s.start, s.inBounds(s.start)
	case s.IsOnSequence(p):
		first, ok = p, s.inBounds(p)
	default:
		first, ok = s.NextPoint(p)
	}
	if ok && s.excluded(first) {
		return s.NextPointOnSequence(first)
	}
	return first, ok
}

// StartPoint returns the first point of the sequence.
func (s *Sequence) StartPoint() (Point, bool) {
	if s.hasStop && s.start > s.stop {
		return 0, false
	}
	if s.excluded(s.start) {
		return s.NextPointOnSequence(s.start)
	}
	return s.start, true
}

// StopPoint returns the last point of the sequence, or false if the
// sequence is unbounded.
func (s *Sequence) StopPoint() (Point, bool) {
	if !s.hasStop {
		return 0, false
	}
	if s.excluded(s.stop) {
		return s.PrevPoint(s.stop)
	}
	return s.stop, true
}

// Points enumerates up to limit valid points in order.
func (s *Sequence) Points(limit int) []Point {
	var pts []Point
	p, ok := s.StartPoint()
	for ok && len(pts) < limit {
		pts = append(pts, p)
		p, ok = s.NextPoint(p)
	}
	return pts
}

// Equal reports whether two sequences describe the same points: equal
// step (no step being its own case), start, stop and exclusion.
func (s *Sequence) Equal(o *Sequence) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.step.IsNull() != o.step.IsNull() {
		return false
	}
	return s.step == o.step &&
		s.start == o.start &&
		s.hasStop == o.hasStop && (!s.hasStop || s.stop == o.stop) &&
		s.hasExclusion == o.hasExclusion && (!s.hasExclusion || s.exclusion == o.exclusion)
}
