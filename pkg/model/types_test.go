package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/daviddao/cyclepool/pkg/cycling"
)

func TestStatus_StringAndParse(t *testing.T) {
	for i := StatusWaiting; i <= StatusRetrying; i++ {
		got, err := ParseStatus(i.String())
		if err != nil || got != i {
			t.Fatalf("ParseStatus(%q) = %v, %v, want %v", i.String(), got, err, i)
		}
	}
	if _, err := ParseStatus("sleeping"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("ParseStatus(sleeping) error = %v, want ErrUnknownStatus", err)
	}
	if s := Status(99).String(); s != "Status(99)" {
		t.Fatalf("out-of-range String = %q", s)
	}
}

func TestStatus_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"s": StatusSubmitRetrying})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"s":"submit-retrying"}` {
		t.Fatalf("Marshal = %s", b)
	}
	var back map[string]Status
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back["s"] != StatusSubmitRetrying {
		t.Fatalf("round trip = %v", back["s"])
	}
}

func TestStatus_Predicates(t *testing.T) {
	cases := []struct {
		s                                         Status
		finished, spent, active, queueActive, hold bool
	}{
		{StatusWaiting, false, false, false, false, true},
		{StatusQueued, false, false, false, false, true},
		{StatusReady, false, false, false, true, false},
		{StatusSubmitted, false, false, true, true, false},
		{StatusRunning, false, false, true, true, false},
		{StatusSucceeded, true, true, false, false, false},
		{StatusFailed, true, false, false, false, false},
		{StatusExpired, true, true, false, false, false},
		{StatusRetrying, false, false, false, false, true},
		{StatusSubmitRetrying, false, false, false, false, true},
		{StatusSubmitFailed, false, false, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.s.String(), func(t *testing.T) {
			if tc.s.IsFinished() != tc.finished {
				t.Errorf("IsFinished = %v", tc.s.IsFinished())
			}
			if tc.s.IsSpent() != tc.spent {
				t.Errorf("IsSpent = %v", tc.s.IsSpent())
			}
			if tc.s.IsActive() != tc.active {
				t.Errorf("IsActive = %v", tc.s.IsActive())
			}
			if tc.s.IsQueueActive() != tc.queueActive {
				t.Errorf("IsQueueActive = %v", tc.s.IsQueueActive())
			}
			if tc.s.CanHold() != tc.hold {
				t.Errorf("CanHold = %v", tc.s.CanHold())
			}
		})
	}
}

func TestParseResetTarget(t *testing.T) {
	for _, s := range []string{"waiting", "held", "ready", "succeeded", "failed"} {
		if _, err := ParseResetTarget(s); err != nil {
			t.Fatalf("ParseResetTarget(%q): %v", s, err)
		}
	}
	for _, s := range []string{"running", "submitted", "expired", ""} {
		if _, err := ParseResetTarget(s); !errors.Is(err, ErrIllegalReset) {
			t.Fatalf("ParseResetTarget(%q) error = %v, want ErrIllegalReset", s, err)
		}
	}
}

func TestNormalizeOutput(t *testing.T) {
	cases := map[string]string{
		"fail":        OutputFailed,
		"succeed":     OutputSucceeded,
		"submit-fail": OutputSubmitFailed,
		"start":       OutputStarted,
		"succeeded":   OutputSucceeded,
		"file-ready":  "file-ready",
	}
	for in, want := range cases {
		if got := NormalizeOutput(in); got != want {
			t.Errorf("NormalizeOutput(%q) = %q, want %q", in, got, want)
		}
	}
	if IsStandardOutput("file-ready") || !IsStandardOutput(OutputExpired) {
		t.Fatal("IsStandardOutput mismatch")
	}
}

func TestTaskID_RoundTrip(t *testing.T) {
	id := TaskID("model.run", 12)
	if id != "model.run.12" {
		t.Fatalf("TaskID = %q", id)
	}
	name, p, err := ParseTaskID(id)
	if err != nil || name != "model.run" || p != 12 {
		t.Fatalf("ParseTaskID(%q) = %q, %v, %v", id, name, p, err)
	}
	for _, bad := range []string{"foo", ".3", "foo.", "foo.bar"} {
		if _, _, err := ParseTaskID(bad); !errors.Is(err, ErrBadTaskID) {
			t.Errorf("ParseTaskID(%q) error = %v, want ErrBadTaskID", bad, err)
		}
	}
}

func stopAt(v int64) *cycling.Point {
	p := cycling.Point(v)
	return &p
}

func TestTaskDefinition_Navigation(t *testing.T) {
	d := &TaskDefinition{
		Name: "a",
		Sequences: []*cycling.Sequence{
			cycling.MustParseSequence("R/1/P4", 1, stopAt(20)),
			cycling.MustParseSequence("R/3/P4", 1, stopAt(20)),
		},
	}
	if p, ok := d.NextPoint(1); !ok || p != 3 {
		t.Fatalf("NextPoint(1) = %v,%v, want 3", p, ok)
	}
	if p, ok := d.NextPoint(3); !ok || p != 5 {
		t.Fatalf("NextPoint(3) = %v,%v, want 5", p, ok)
	}
	if p, ok := d.PrevPoint(5); !ok || p != 3 {
		t.Fatalf("PrevPoint(5) = %v,%v, want 3", p, ok)
	}
	if p, ok := d.FirstPoint(2); !ok || p != 3 {
		t.Fatalf("FirstPoint(2) = %v,%v, want 3", p, ok)
	}
	if d.IsValidPoint(2) || !d.IsValidPoint(7) {
		t.Fatal("IsValidPoint mismatch")
	}
}

func TestTaskDefinition_ParentsAndCutoff(t *testing.T) {
	seq := cycling.MustParseSequence("P1", 1, stopAt(10))
	d := &TaskDefinition{
		Name:      "b",
		Sequences: []*cycling.Sequence{seq},
		Dependencies: []Dependency{
			{Sequence: seq, Triggers: []Trigger{
				{Task: "a", Output: OutputSucceeded},
				{Task: "b", Output: OutputSucceeded, Offset: -1},
				{Task: "prep", Output: OutputSucceeded, Absolute: true, AbsPoint: 1},
			}},
			{Sequence: seq, Suicide: true, Triggers: []Trigger{
				{Task: "x", Output: OutputFailed, Offset: -3},
			}},
		},
		CleanupOffset: 2,
	}
	if got := d.ParentPoints(5); !reflect.DeepEqual(got, []cycling.Point{4, 5}) {
		t.Fatalf("ParentPoints(5) = %v", got)
	}
	abs := d.AbsTriggers(5)
	if len(abs) != 1 || abs[0].Task != "prep" || abs[0].ParentPoint(5) != 1 {
		t.Fatalf("AbsTriggers(5) = %+v", abs)
	}
	if got := d.CleanupCutoff(5); got != 7 {
		t.Fatalf("CleanupCutoff(5) = %v, want 7", got)
	}

	d.CleanupOffset = 0
	d.Sequential = true
	if got := d.CleanupCutoff(5); got != 6 {
		t.Fatalf("sequential CleanupCutoff(5) = %v, want 6", got)
	}
	if key := d.Dependencies[0].Triggers[1].Key(5); key != "b.4:succeeded" {
		t.Fatalf("Key = %q", key)
	}
}
