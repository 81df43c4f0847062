package pool

import (
	"github.com/daviddao/cyclepool/pkg/events"
	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/store"
)

// Persistence is the part of the store the pool writes through.
type Persistence interface {
	PutInsertTaskStates(rows []store.TaskState) error
	PutUpdateTaskStates(rows []store.TaskState) error
	SelectSubmitNums(keys []store.TaskKey) (map[store.TaskKey]int, error)
	PutTaskPool(rows []store.PoolRow) error
	SelectTaskPool() ([]store.PoolRow, error)
	PutTaskEvents(evs []store.TaskEvent) error
	SetParam(key, value string) error
	GetParam(key string) (string, error)
}

var _ Persistence = (store.StoreInterface)(nil)

// JobControl submits, polls and kills jobs. Every call returns at once;
// outcomes come back as jobs.Event values.
type JobControl interface {
	Submit(specs []jobs.Spec)
	Poll(keys []jobs.Key)
	Kill(keys []jobs.Key)
}

// EventHandler receives task events. Handle returns the number of
// handler invocations still in flight for the event.
type EventHandler interface {
	Handle(ev events.Event) int
}

var (
	_ JobControl   = (*jobs.Executor)(nil)
	_ EventHandler = events.Multi(nil)
)

type nopJobs struct{}

func (nopJobs) Submit([]jobs.Spec) {}
func (nopJobs) Poll([]jobs.Key)    {}
func (nopJobs) Kill([]jobs.Key)    {}

type nopEvents struct{}

func (nopEvents) Handle(events.Event) int { return 0 }
