package cycling

import (
	"errors"
	"testing"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    Interval
		wantErr bool
	}{
		{"P3", 3, false},
		{"+P3", 3, false},
		{"-P12", -12, false},
		{"P0", 0, false},
		{"3", 0, true},
		{"PT1H", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrBadInterval) {
				t.Errorf("ParseInterval(%q) error = %v, want ErrBadInterval", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestPointRelative(t *testing.T) {
	tests := []struct {
		expr string
		ctx  Point
		want Point
	}{
		{"+P2", 5, 7},
		{"-P1", 5, 4},
		{"12", 5, 12},
	}
	for _, tt := range tests {
		got, err := PointRelative(tt.expr, tt.ctx)
		if err != nil || got != tt.want {
			t.Errorf("PointRelative(%q, %d) = %v, %v, want %v", tt.expr, tt.ctx, got, err, tt.want)
		}
	}
	if _, err := PointRelative("soon", 1); !errors.Is(err, ErrBadPoint) {
		t.Fatalf("PointRelative(soon) error = %v, want ErrBadPoint", err)
	}
}

func TestIntervalArithmetic(t *testing.T) {
	i := Interval(-4)
	if i.Abs() != 4 {
		t.Fatalf("Abs(-4) = %v", i.Abs())
	}
	if i.Mul(3) != -12 {
		t.Fatalf("Mul = %v", i.Mul(3))
	}
	if i.String() != "-P4" || Interval(2).String() != "P2" {
		t.Fatalf("String = %q / %q", i.String(), Interval(2).String())
	}
	if !Null.IsNull() || Interval(1).IsNull() {
		t.Fatal("IsNull mismatch")
	}
	if Point(3).Add(Interval(2)) != 5 || Point(3).Sub(Point(7)) != -4 {
		t.Fatal("point arithmetic mismatch")
	}
}

func TestMod(t *testing.T) {
	tests := []struct{ a, b, want int64 }{
		{7, 3, 1},
		{-1, 3, 2},
		{-3, 3, 0},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := mod(tt.a, tt.b); got != tt.want {
			t.Errorf("mod(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
