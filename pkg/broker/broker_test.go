package broker

import (
	"testing"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/task"
)

func defs() (*model.TaskDefinition, *model.TaskDefinition) {
	stop := cycling.Point(5)
	seq := cycling.MustParseSequence("P1", 1, &stop)
	a := &model.TaskDefinition{Name: "a", Sequences: []*cycling.Sequence{seq}}
	b := &model.TaskDefinition{
		Name:      "b",
		Sequences: []*cycling.Sequence{seq},
		Dependencies: []model.Dependency{
			{Sequence: seq, Triggers: []model.Trigger{{Task: "a", Output: model.OutputSucceeded}}},
			{Sequence: seq, Suicide: true, Triggers: []model.Trigger{{Task: "a", Output: model.OutputFailed}}},
		},
	}
	return a, b
}

func TestNegotiate_MatchesCompletedOutputs(t *testing.T) {
	ad, bd := defs()
	a1 := task.New(ad, 1, 1, 0)
	b1 := task.New(bd, 1, 1, 0)
	b2 := task.New(bd, 1, 2, 0)
	a1.CompleteOutput(model.OutputSucceeded)

	br := New()
	br.Register([]*task.Proxy{a1, b1, b2})
	if br.Len() != 1 {
		t.Fatalf("Len = %d, want 1", br.Len())
	}
	b2.ClearDirty()
	if n := br.Negotiate([]*task.Proxy{b1, b2}); n != 1 {
		t.Fatalf("Negotiate = %d, want 1", n)
	}
	if !b1.PrereqsSatisfied() {
		t.Fatal("b.1 should be satisfied")
	}
	if b2.PrereqsSatisfied() || b2.Dirty() {
		t.Fatal("b.2 should be untouched")
	}
	if b1.SuicideSatisfied() {
		t.Fatal("suicide edge should stay open")
	}
}

func TestNegotiate_SatisfiedOnce(t *testing.T) {
	ad, bd := defs()
	a1 := task.New(ad, 1, 1, 0)
	b1 := task.New(bd, 1, 1, 0)
	a1.CompleteOutput(model.OutputSucceeded)

	br := New()
	br.Register([]*task.Proxy{a1})
	br.Negotiate([]*task.Proxy{b1})

	// The parent being reset does not unsatisfy the child.
	a1.ResetWaiting()
	br.Reset()
	br.Register([]*task.Proxy{a1})
	if br.Len() != 0 {
		t.Fatalf("Len after reset = %d", br.Len())
	}
	if n := br.Negotiate([]*task.Proxy{b1}); n != 0 || !b1.PrereqsSatisfied() {
		t.Fatalf("second pass = %d satisfied=%v", n, b1.PrereqsSatisfied())
	}
}

func TestNegotiate_SuicideEdges(t *testing.T) {
	ad, bd := defs()
	a1 := task.New(ad, 1, 1, 0)
	b1 := task.New(bd, 1, 1, 0)
	a1.CompleteOutput(model.OutputFailed)

	br := New()
	br.Register([]*task.Proxy{a1})
	br.Negotiate([]*task.Proxy{b1})
	if !b1.SuicideSatisfied() || b1.PrereqsSatisfied() {
		t.Fatal("failed output should satisfy only the suicide edge")
	}
}
