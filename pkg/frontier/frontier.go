// Package frontier computes the runahead admission frontier.
//
// The runahead base point is the earliest cycle point that still holds an
// unfinished task. Tasks are only admitted to the active pool while their
// point lies inside a window above the base: either a fixed number of
// sequence points (count-limited policy) or a fixed interval (custom,
// duration-limited policy). Finished tasks never hold the base back, so
// the window slides forward as soon as the oldest point completes.
package frontier

import (
	"slices"

	"github.com/daviddao/cyclepool/pkg/cycling"
)

// PointState summarises the tasks at one cycle point.
type PointState struct {
	Point      cycling.Point `json:"point"`
	Unfinished bool          `json:"unfinished"`
}

// ActivePoints returns the points from the earliest one holding
// unfinished work onwards, in ascending order. Points before it that only
// hold finished tasks are dropped.
func ActivePoints(states []PointState) []cycling.Point {
	sorted := slices.Clone(states)
	slices.SortFunc(sorted, func(a, b PointState) int { return a.Point.Compare(b.Point) })
	var points []cycling.Point
	for _, s := range sorted {
		if len(points) == 0 && !s.Unfinished {
			continue
		}
		if n := len(points); n > 0 && points[n-1] == s.Point {
			continue
		}
		points = append(points, s.Point)
	}
	return points
}

// BasePoint returns the earliest point holding an unfinished task.
func BasePoint(states []PointState) (cycling.Point, bool) {
	pts := ActivePoints(states)
	if len(pts) == 0 {
		return 0, false
	}
	return pts[0], true
}

// Bounds returns the smallest and largest of points.
func Bounds(points []cycling.Point) (lo, hi cycling.Point, ok bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	return slices.Min(points), slices.Max(points), true
}

// Policy is the runahead configuration in force.
type Policy struct {
	// Limit is the number of sequence points the window spans.
	Limit int
	// Custom, when set, selects the duration-limited policy.
	Custom *cycling.Interval
	// MaxFutureOffset is the largest future trigger offset among active
	// tasks.
	MaxFutureOffset *cycling.Interval
	// StopPoint caps the window.
	StopPoint *cycling.Point
}

// Admission is the result of one frontier computation.
type Admission struct {
	Base          cycling.Point `json:"base"`
	LatestAllowed cycling.Point `json:"latest_allowed"`
	BaseChanged   bool          `json:"base_changed"`

	// ShortCustom is set under the custom policy when the window is
	// narrower than the max future offset; the suite may stall.
	ShortCustom bool `json:"short_custom,omitempty"`
}

// Window caches the sequence points reachable from the current base
// point. Not goroutine-safe.
type Window struct {
	seqs []*cycling.Sequence

	base    cycling.Point
	limit   int
	hasBase bool
	cached  []cycling.Point
}

// NewWindow returns a window over the suite's sequences.
func NewWindow(seqs []*cycling.Sequence) *Window {
	return &Window{seqs: seqs}
}

// SequencePoints returns the points reached by stepping limit times along
// every sequence from base. Results are cached until base or limit
// changes.
func (w *Window) SequencePoints(base cycling.Point, limit int) []cycling.Point {
	if w.hasBase && w.base == base && w.limit == limit {
		return w.cached
	}
	var pts []cycling.Point
	for _, s := range w.seqs {
		p := base
		for range limit {
			next, ok := s.NextPoint(p)
			if !ok {
				break
			}
			if !slices.Contains(pts, next) {
				pts = append(pts, next)
			}
			p = next
		}
	}
	slices.Sort(pts)
	w.base, w.limit, w.hasBase, w.cached = base, limit, true, pts
	return pts
}

// Compute returns the latest point that may be admitted, given the
// points of every task in the pool.
func (w *Window) Compute(states []PointState, pol Policy) (Admission, bool) {
	active := ActivePoints(states)
	if len(active) == 0 {
		return Admission{}, false
	}
	base := active[0]
	adm := Admission{Base: base, BaseChanged: !w.hasBase || w.base != base}

	limit := max(pol.Limit, 1)
	candidates := slices.Clone(active)
	for _, p := range w.SequencePoints(base, limit) {
		if !slices.Contains(candidates, p) {
			candidates = append(candidates, p)
		}
	}
	slices.Sort(candidates)

	if pol.Custom == nil {
		adm.LatestAllowed = candidates[min(limit, len(candidates))-1]
		if pol.MaxFutureOffset != nil {
			adm.LatestAllowed = adm.LatestAllowed.Add(*pol.MaxFutureOffset)
		}
	} else {
		adm.LatestAllowed = base.Add(*pol.Custom)
		if pol.MaxFutureOffset != nil && *pol.Custom < *pol.MaxFutureOffset {
			adm.ShortCustom = true
		}
	}
	if pol.StopPoint != nil && adm.LatestAllowed > *pol.StopPoint {
		adm.LatestAllowed = *pol.StopPoint
	}
	return adm, true
}
