// Package cycling implements integer cycle points, intervals and the
// recurrence sequences that tasks repeat over.
//
// A cycle point is a position in a task's repeating domain. With integer
// cycling a point is just an integer and an interval is a signed integer
// distance written "P<n>". Sequences are parsed from ISO8601-like
// recurrence expressions such as "R3/0/10", "P3" or "R/P1!3" against the
// suite's initial and final cycle points.
package cycling

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrBadPoint is returned for point expressions that are not integers
	// or relative offsets.
	ErrBadPoint = errors.New("bad integer cycle point")

	// ErrBadInterval is returned for interval expressions not of the form
	// [+-]P<n>.
	ErrBadInterval = errors.New("bad integer cycle interval")
)

var (
	reInterval      = regexp.MustCompile(`^[-+]?P\d+$`)
	reRelativePoint = regexp.MustCompile(`^[-+]P\d+$`)
)

// Point is an integer cycle point.
type Point int64

// Add returns the point offset by i.
func (p Point) Add(i Interval) Point { return p + Point(i) }

// Sub returns the interval from q to p.
func (p Point) Sub(q Point) Interval { return Interval(p - q) }

// Compare returns -1, 0 or +1 depending on whether p is before, equal to
// or after q.
func (p Point) Compare(q Point) int {
	switch {
	case p < q:
		return -1
	case p > q:
		return 1
	}
	return 0
}

func (p Point) String() string { return strconv.FormatInt(int64(p), 10) }

// Interval is a signed distance between integer cycle points.
type Interval int64

// Null is the zero interval.
const Null Interval = 0

// IsNull reports whether i is the zero interval.
func (i Interval) IsNull() bool { return i == Null }

// Add returns i + j.
func (i Interval) Add(j Interval) Interval { return i + j }

// Sub returns i - j.
func (i Interval) Sub(j Interval) Interval { return i - j }

// Mul returns i scaled by n.
func (i Interval) Mul(n int64) Interval { return i * Interval(n) }

// Abs returns the absolute value of i.
func (i Interval) Abs() Interval {
	if i < 0 {
		return -i
	}
	return i
}

func (i Interval) String() string {
	if i < 0 {
		return "-P" + strconv.FormatInt(int64(-i), 10)
	}
	return "P" + strconv.FormatInt(int64(i), 10)
}

// ParsePoint parses an absolute integer point such as "10" or "-3".
func ParsePoint(s string) (Point, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPoint, s)
	}
	return Point(v), nil
}

// ParseInterval parses "P3", "+P3" or "-P3".
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if !reInterval.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrBadInterval, s)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	v, err := strconv.ParseInt(s[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadInterval, s)
	}
	if neg {
		v = -v
	}
	return Interval(v), nil
}

// IsRelative reports whether expr is a relative point expression such as
// "+P2" or "-P12".
func IsRelative(expr string) bool {
	return reRelativePoint.MatchString(strings.TrimSpace(expr))
}

// PointRelative resolves expr against ctx. Relative expressions ("+P2",
// "-P1") are offsets from ctx; anything else is parsed as an absolute
// point.
func PointRelative(expr string, ctx Point) (Point, error) {
	if IsRelative(expr) {
		i, err := ParseInterval(expr)
		if err != nil {
			return 0, err
		}
		return ctx.Add(i), nil
	}
	return ParsePoint(expr)
}

// mod is the floored modulus: the result has the sign of b.
func mod(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}
