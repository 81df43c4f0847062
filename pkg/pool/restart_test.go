package pool

import (
	"errors"
	"slices"
	"testing"

	"github.com/daviddao/cyclepool/pkg/clock"
	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/logger"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
)

func TestFlushStore_RestartRestoresPool(t *testing.T) {
	st := newTestStore(t)
	h := newHarnessWithStore(t, chainSuite, st)
	h.pool.ColdStart()
	h.iterate()
	a1 := h.submit()[0]
	h.run(a1)
	h.event(a1, jobs.KindSucceeded, "")
	h.iterate()
	h.pool.HoldTasks([]string{"b.1"})
	if ready := h.submit(); !equalIDs(ready, "a.2") {
		t.Fatalf("ready = %v", ids(ready))
	}
	h.run(h.mustGet(t, "a.2"))
	if err := h.pool.FlushStore(); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	evs, err := st.ListTaskEvents("a.1", 0)
	if err != nil {
		t.Fatalf("ListTaskEvents: %v", err)
	}
	var kinds []string
	for _, ev := range evs {
		kinds = append(kinds, ev.Event)
	}
	if want := []string{"submitted", "started", "succeeded"}; !slices.Equal(kinds, want) {
		t.Fatalf("a.1 events = %v, want %v", kinds, want)
	}

	h2 := newHarnessWithStore(t, chainSuite, st)
	n, err := h2.pool.LoadFromStore()
	if err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	if n != h.pool.Len() {
		t.Fatalf("loaded %d tasks, want %d", n, h.pool.Len())
	}
	if a := h2.mustGet(t, "a.1"); a.Status() != model.StatusSucceeded {
		t.Fatalf("a.1 = %v", a.Status())
	}
	b := h2.mustGet(t, "b.1")
	if !b.IsHeld() || !b.PrereqsSatisfied() {
		t.Fatalf("b.1 held=%v satisfied=%v", b.IsHeld(), b.PrereqsSatisfied())
	}
	a2 := h2.mustGet(t, "a.2")
	if a2.Status() != model.StatusRunning || a2.SubmitNum != 1 || a2.TryNum != 1 {
		t.Fatalf("a.2 = %v submit %d try %d", a2.Status(), a2.SubmitNum, a2.TryNum)
	}
	if len(h2.jobs.polled) != 1 || h2.jobs.polled[0] != (jobs.Key{Name: "a", Point: 2, SubmitNum: 1}) {
		t.Fatalf("polled = %v, want the running a.2", h2.jobs.polled)
	}

	// The job went away while the scheduler was down.
	h2.event(a2, jobs.KindPollFailed, "no such job")
	if a2.Status() != model.StatusRetrying {
		t.Fatalf("lost job left a.2 %v, want retrying", a2.Status())
	}
}

func TestLoadFromStore_ReadyGoesBackToWaiting(t *testing.T) {
	st := newTestStore(t)
	h := newHarnessWithStore(t, queueSuite, st)
	h.pool.ColdStart()
	h.iterate()
	h.submit()
	if err := h.pool.FlushStore(); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	h2 := newHarnessWithStore(t, queueSuite, st)
	if _, err := h2.pool.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	for _, id := range []string{"a.1", "b.1", "c.1"} {
		if s := h2.mustGet(t, id).Status(); s != model.StatusWaiting {
			t.Fatalf("%s = %v, want waiting", id, s)
		}
	}
	if len(h2.jobs.polled) != 0 {
		t.Fatalf("polled %v", h2.jobs.polled)
	}
}

func TestLoadFromStore_AbsoluteOutputs(t *testing.T) {
	const src = `
name: abs
scheduling:
  initial cycle point: 1
  final cycle point: 6
  graph:
    R1: prep
    P1: prep[^] => foo
`
	st := newTestStore(t)
	h := newHarnessWithStore(t, src, st)
	h.pool.ColdStart()
	h.iterate()
	prep := h.mustGet(t, "prep.1")
	h.submit()
	h.run(prep)
	h.event(prep, jobs.KindSucceeded, "")
	h.pool.RemoveTasks([]string{"prep.1"})
	if err := h.pool.FlushStore(); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	h2 := newHarnessWithStore(t, src, st)
	if _, err := h2.pool.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	if foo := h2.pool.Spawn("foo", 6); foo == nil || !foo.PrereqsSatisfied() {
		t.Fatal("absolute trigger forgotten across restart")
	}
}

// flakyStore fails state updates while broken is set.
type flakyStore struct {
	*store.Store
	broken bool
}

var errBroken = errors.New("disk on fire")

func (f *flakyStore) PutUpdateTaskStates(rows []store.TaskState) error {
	if f.broken {
		return errBroken
	}
	return f.Store.PutUpdateTaskStates(rows)
}

func TestFlushStore_KeepsFailedWrites(t *testing.T) {
	fs := &flakyStore{Store: newTestStore(t)}
	p := New(parseSuite(t, parentlessSuite), Options{
		Store:  fs,
		Logger: logger.Nop(),
		Clock:  clock.NewManual(epoch),
	})
	p.Spawn("foo", 1)
	if err := p.FlushStore(); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	foo := p.Get("foo", 1)
	foo.Hold()
	p.RemoveTasks([]string{"foo.1"})
	fs.broken = true
	if err := p.FlushStore(); !errors.Is(err, errBroken) {
		t.Fatalf("err = %v, want errBroken", err)
	}
	if len(p.pendingUpdates) != 1 {
		t.Fatalf("pending updates = %d, want the removal kept", len(p.pendingUpdates))
	}

	fs.broken = false
	if err := p.FlushStore(); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if len(p.pendingUpdates) != 0 {
		t.Fatal("pending updates not cleared")
	}
}
