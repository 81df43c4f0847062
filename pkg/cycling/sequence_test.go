package cycling

import (
	"errors"
	"reflect"
	"testing"
)

func pt(v int64) *Point {
	p := Point(v)
	return &p
}

func TestParseSequence_Points(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		ctxStart Point
		ctxStop  *Point
		limit    int
		want     []Point
	}{
		{"explicit range even split", "R3/0/10", 0, nil, 10, []Point{0, 5, 10}},
		{"bare interval", "P3", 1, nil, 4, []Point{1, 4, 7, 10}},
		{"bare interval bounded", "P3", 1, pt(10), 10, []Point{1, 4, 7, 10}},
		{"start and period", "R/1/P3", 1, pt(10), 10, []Point{1, 4, 7, 10}},
		{"start period with reps", "R4/2/P2", 1, nil, 10, []Point{2, 4, 6, 8}},
		{"period back from end", "R5/P2/10", 1, nil, 10, []Point{2, 4, 6, 8, 10}},
		{"exclusion", "R/P1!3", 1, pt(5), 10, []Point{1, 2, 4, 5}},
		{"one-off at context start", "R1", 3, pt(9), 10, []Point{3}},
		{"one-off at start", "R1/5", 1, pt(9), 10, []Point{5}},
		{"one-off at end", "R1//7", 1, pt(9), 10, []Point{7}},
		{"one-off explicit", "R1/4/8", 1, pt(9), 10, []Point{4}},
		{"relative start", "+P2/P2", 1, pt(9), 10, []Point{3, 5, 7, 9}},
		{"period to end", "P2/9", 1, nil, 10, []Point{1, 3, 5, 7, 9}},
		{"clamped to context stop", "R10/1/P3", 1, pt(8), 10, []Point{1, 4, 7}},
		{"shifted to context start", "R/0/P3", 2, pt(12), 10, []Point{3, 6, 9, 12}},
		{"shift keeps start on sequence", "R/1/P3", 5, pt(12), 10, []Point{7, 10}},
		{"clamp keeps stop on sequence", "R4/2/P5", 1, pt(13), 10, []Point{2, 7, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSequence(tt.expr, tt.ctxStart, tt.ctxStop)
			if err != nil {
				t.Fatalf("ParseSequence(%q): %v", tt.expr, err)
			}
			got := s.Points(tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("%q points = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseSequence_Errors(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		ctxStop *Point
		want    error
	}{
		{"garbage", "every tuesday", pt(10), ErrBadRecurrence},
		{"negative step", "R3/10/0", pt(10), ErrNegativeInterval},
		{"two exclusions", "R/P1!3!4", pt(10), ErrBadExclusion},
		{"exclusion with slash", "R/P1!3/4", pt(10), ErrBadExclusion},
		{"period end without final point", "R/P1", nil, ErrMissingContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSequence(tt.expr, 1, tt.ctxStop)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ParseSequence(%q) error = %v, want %v", tt.expr, err, tt.want)
			}
		})
	}
}

func TestExclusionNavigation(t *testing.T) {
	s := MustParseSequence("R/P1!3", 1, pt(5))

	if p, ok := s.PrevPoint(3); !ok || p != 2 {
		t.Fatalf("PrevPoint(3) = %v,%v, want 2", p, ok)
	}
	if p, ok := s.PrevPoint(4); !ok || p != 2 {
		t.Fatalf("PrevPoint(4) = %v,%v, want 2", p, ok)
	}
	if p, ok := s.NextPoint(3); !ok || p != 4 {
		t.Fatalf("NextPoint(3) = %v,%v, want 4", p, ok)
	}
	if p, ok := s.NextPoint(2); !ok || p != 4 {
		t.Fatalf("NextPoint(2) = %v,%v, want 4", p, ok)
	}
	if s.IsOnSequence(3) {
		t.Fatal("excluded point should not be on sequence")
	}
}

func TestExclusionAtBounds(t *testing.T) {
	s := MustParseSequence("R/P1!1", 1, pt(5))
	if p, ok := s.FirstPoint(1); !ok || p != 2 {
		t.Fatalf("FirstPoint(1) = %v,%v, want 2", p, ok)
	}
	if p, ok := s.StartPoint(); !ok || p != 2 {
		t.Fatalf("StartPoint = %v,%v, want 2", p, ok)
	}

	s = MustParseSequence("R/P1!5", 1, pt(5))
	if p, ok := s.StopPoint(); !ok || p != 4 {
		t.Fatalf("StopPoint = %v,%v, want 4", p, ok)
	}
}

func TestForwardAndBackward(t *testing.T) {
	s := MustParseSequence("R/1/P3", 1, pt(10))

	var fwd []Point
	p, ok := s.StartPoint()
	for ok {
		fwd = append(fwd, p)
		p, ok = s.NextPoint(p)
	}
	if !reflect.DeepEqual(fwd, []Point{1, 4, 7, 10}) {
		t.Fatalf("forward = %v", fwd)
	}

	var back []Point
	p, ok = s.StopPoint()
	for ok {
		back = append(back, p)
		p, ok = s.PrevPoint(p)
	}
	if !reflect.DeepEqual(back, []Point{10, 7, 4, 1}) {
		t.Fatalf("backward = %v", back)
	}
}

func TestValidImpliesOnSequence(t *testing.T) {
	exprs := []string{"R3/0/10", "P3", "R/P1!3", "R5/P2/10", "R1/4", "P2/9"}
	for _, expr := range exprs {
		s := MustParseSequence(expr, 0, pt(12))
		for p := Point(-5); p <= 20; p++ {
			if s.IsValid(p) && !s.IsOnSequence(p) {
				t.Fatalf("%q: IsValid(%d) but not on sequence", expr, p)
			}
		}
	}

	// The converse does not hold: out-of-bounds points can be on-sequence.
	s := MustParseSequence("R3/0/10", 0, nil)
	if !s.IsOnSequence(15) || s.IsValid(15) {
		t.Fatal("15 should be on sequence but not valid")
	}
}

func TestNextPrevRoundTrip(t *testing.T) {
	exprs := []string{"P3", "R/P1!3", "R/P2!5", "R5/P2/10", "R3/0/10"}
	for _, expr := range exprs {
		s := MustParseSequence(expr, 0, pt(20))
		for _, p := range s.Points(50) {
			prev, ok := s.PrevPoint(p)
			if !ok {
				continue
			}
			next, ok := s.NextPoint(prev)
			if !ok || next != p {
				t.Fatalf("%q: NextPoint(PrevPoint(%d)=%d) = %d,%v", expr, p, prev, next, ok)
			}
		}
	}
}

func TestNearestPrevPoint(t *testing.T) {
	s := MustParseSequence("P3", 1, pt(20))
	tests := []struct {
		in   Point
		want Point
		ok   bool
	}{
		{5, 4, true},
		{4, 1, true},
		{1, 0, false},
		{0, 0, false},
		{24, 19, true},
	}
	for _, tt := range tests {
		got, ok := s.NearestPrevPoint(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("NearestPrevPoint(%d) = %d,%v, want %d,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOneOffNavigation(t *testing.T) {
	s := MustParseSequence("R1/5", 1, pt(10))
	if !s.IsOneOff() {
		t.Fatal("R1/5 should be a one-off")
	}
	if _, ok := s.PrevPoint(5); ok {
		t.Fatal("one-off has no previous point")
	}
	if p, ok := s.NextPoint(2); !ok || p != 5 {
		t.Fatalf("NextPoint(2) = %v,%v, want 5", p, ok)
	}
	if _, ok := s.NextPoint(5); ok {
		t.Fatal("one-off has no point after its only point")
	}
}

func TestSequenceEqual(t *testing.T) {
	a := MustParseSequence("R/1/P3", 1, pt(10))
	b := MustParseSequence("P3", 1, pt(10))
	if !a.Equal(b) {
		t.Fatal("R/1/P3 and P3 over [1,10] should be equal")
	}
	c := MustParseSequence("R/P3!4", 1, pt(10))
	if a.Equal(c) {
		t.Fatal("sequences with different exclusions should differ")
	}
	d := MustParseSequence("R1/1", 1, pt(10))
	if a.Equal(d) {
		t.Fatal("one-off should differ from a stepped sequence")
	}
}
