package store

import (
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

// TaskKey identifies a task instance in the database.
type TaskKey struct {
	Name  string
	Point cycling.Point
}

// TaskState is a row of task_states: the lasting record of every task
// instance ever spawned.
type TaskState struct {
	Name      string        `json:"name"`
	Point     cycling.Point `json:"cycle"`
	Created   time.Time     `json:"time_created"`
	Updated   time.Time     `json:"time_updated"`
	SubmitNum int           `json:"submit_num"`
	Status    model.Status  `json:"status"`
}

// PoolRow is a row of the task_pool snapshot.
type PoolRow struct {
	Point     cycling.Point `json:"cycle"`
	Name      string        `json:"name"`
	Status    model.Status  `json:"status"`
	Held      bool          `json:"is_held"`
	SubmitNum int           `json:"submit_num"`
	Satisfied []string      `json:"satisfied,omitempty"`
	Outputs   []string      `json:"outputs,omitempty"`
}

// TaskEvent is a row of task_events.
type TaskEvent struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Point     cycling.Point `json:"cycle"`
	Time      time.Time     `json:"time"`
	SubmitNum int           `json:"submit_num"`
	Event     string        `json:"event"`
	Message   string        `json:"message,omitempty"`
}
