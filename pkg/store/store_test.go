package store

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func state(name string, p int64, submit int, st model.Status) TaskState {
	return TaskState{Name: name, Point: cycling.Point(p), Created: t0, Updated: t0, SubmitNum: submit, Status: st}
}

// --- Task state tests ---

func TestInsertAndListTaskStates(t *testing.T) {
	s := newTestStore(t)
	rows := []TaskState{state("b", 1, 0, model.StatusWaiting), state("a", 2, 0, model.StatusWaiting), state("a", 1, 0, model.StatusWaiting)}
	if err := s.PutInsertTaskStates(rows); err != nil {
		t.Fatalf("PutInsertTaskStates: %v", err)
	}
	got, err := s.ListTaskStates()
	if err != nil {
		t.Fatalf("ListTaskStates: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, model.TaskID(r.Name, r.Point))
	}
	if !reflect.DeepEqual(ids, []string{"a.1", "b.1", "a.2"}) {
		t.Fatalf("order = %v", ids)
	}
	if !got[0].Created.Equal(t0) {
		t.Fatalf("Created = %v, want %v", got[0].Created, t0)
	}
}

func TestInsertTaskStates_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutInsertTaskStates([]TaskState{state("a", 1, 0, model.StatusWaiting)}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutInsertTaskStates([]TaskState{state("a", 1, 4, model.StatusRunning)}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.ListTaskStates()
	if len(got) != 1 || got[0].Status != model.StatusWaiting || got[0].SubmitNum != 0 {
		t.Fatalf("second insert should be ignored, got %+v", got)
	}
}

func TestUpdateTaskStates(t *testing.T) {
	s := newTestStore(t)
	s.PutInsertTaskStates([]TaskState{state("a", 1, 0, model.StatusWaiting)})

	upd := state("a", 1, 2, model.StatusSucceeded)
	upd.Updated = t0.Add(time.Hour)
	if err := s.PutUpdateTaskStates([]TaskState{upd}); err != nil {
		t.Fatalf("PutUpdateTaskStates: %v", err)
	}
	got, _ := s.ListTaskStates()
	if got[0].Status != model.StatusSucceeded || got[0].SubmitNum != 2 {
		t.Fatalf("after update: %+v", got[0])
	}
	if !got[0].Updated.Equal(t0.Add(time.Hour)) || !got[0].Created.Equal(t0) {
		t.Fatalf("times = %v / %v", got[0].Created, got[0].Updated)
	}
}

func TestSelectSubmitNums(t *testing.T) {
	s := newTestStore(t)
	s.PutInsertTaskStates([]TaskState{state("a", 1, 3, model.StatusSucceeded), state("b", 1, 0, model.StatusWaiting)})

	got, err := s.SelectSubmitNums([]TaskKey{{"a", 1}, {"b", 1}, {"c", 9}})
	if err != nil {
		t.Fatalf("SelectSubmitNums: %v", err)
	}
	want := map[TaskKey]int{{"a", 1}: 3, {"b", 1}: 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	empty, err := s.SelectSubmitNums(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("SelectSubmitNums(nil) = %v, %v", empty, err)
	}
}

// --- Pool snapshot tests ---

func TestTaskPoolSnapshotReplaces(t *testing.T) {
	s := newTestStore(t)
	first := []PoolRow{
		{Point: 1, Name: "a", Status: model.StatusRunning, SubmitNum: 1, Outputs: []string{"submitted", "started"}},
		{Point: 1, Name: "b", Status: model.StatusWaiting, Held: true, Satisfied: []string{"a.1:succeeded"}},
	}
	if err := s.PutTaskPool(first); err != nil {
		t.Fatalf("PutTaskPool: %v", err)
	}
	got, err := s.SelectTaskPool()
	if err != nil {
		t.Fatalf("SelectTaskPool: %v", err)
	}
	if !reflect.DeepEqual(got, first) {
		t.Fatalf("snapshot = %+v, want %+v", got, first)
	}

	second := []PoolRow{{Point: 2, Name: "a", Status: model.StatusWaiting}}
	if err := s.PutTaskPool(second); err != nil {
		t.Fatalf("PutTaskPool: %v", err)
	}
	got, _ = s.SelectTaskPool()
	if !reflect.DeepEqual(got, second) {
		t.Fatalf("replaced snapshot = %+v", got)
	}
}

// --- Event tests ---

func TestTaskEvents(t *testing.T) {
	s := newTestStore(t)
	evs := []TaskEvent{
		{Name: "a", Point: 1, Time: t0, SubmitNum: 1, Event: "submitted"},
		{Name: "a", Point: 1, Time: t0.Add(time.Second), SubmitNum: 1, Event: "started"},
		{Name: "b", Point: 1, Time: t0.Add(2 * time.Second), Event: "expired", Message: "skipping job"},
	}
	if err := s.PutTaskEvents(evs); err != nil {
		t.Fatalf("PutTaskEvents: %v", err)
	}

	all, err := s.ListTaskEvents("", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListTaskEvents all = %d, %v", len(all), err)
	}
	if all[0].Event != "submitted" || all[2].Message != "skipping job" {
		t.Fatalf("chronological order broken: %+v", all)
	}

	recent, _ := s.ListTaskEvents("", 2)
	if len(recent) != 2 || recent[0].Event != "started" || recent[1].Event != "expired" {
		t.Fatalf("recent = %+v", recent)
	}

	forA, _ := s.ListTaskEvents("a.1", 0)
	if len(forA) != 2 {
		t.Fatalf("events for a.1 = %d, want 2", len(forA))
	}
	if _, err := s.ListTaskEvents("bogus", 0); !errors.Is(err, model.ErrBadTaskID) {
		t.Fatalf("bad id error = %v", err)
	}
}

// --- Param tests ---

func TestParams(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetParam("run_id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetParam on empty db = %v, want ErrNotFound", err)
	}
	if err := s.SetParam("run_id", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetParam("run_id", "r2"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.GetParam("run_id"); err != nil || v != "r2" {
		t.Fatalf("GetParam = %q, %v", v, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.SetParam("initial_point", "1")
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, _ := s.GetParam("initial_point"); v != "1" {
		t.Fatalf("after reopen = %q", v)
	}
}
