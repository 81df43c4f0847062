// Package jobs runs task jobs off the scheduler goroutine.
//
// Submit, Poll and Kill never block. Work is handed to a bounded worker
// pool and every outcome comes back as an Event, which the scheduler
// drains once per iteration. Jobs are keyed by (name, point, submit
// number) so that results for an older submission can be told apart from
// the current one.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"
)

// Event kinds. The first five are task outputs.
const (
	KindSubmitted    = model.OutputSubmitted
	KindSubmitFailed = model.OutputSubmitFailed
	KindStarted      = model.OutputStarted
	KindSucceeded    = model.OutputSucceeded
	KindFailed       = model.OutputFailed

	// KindMessage carries a custom output name in Event.Message.
	KindMessage = "message"

	KindKillFailed  = "kill-failed"
	KindPollFailed  = "poll-failed"
	KindHandlerDone = "handler-done"
)

// ErrSubmit marks a job that could not be started.
var ErrSubmit = errors.New("job submission failed")

// Key identifies one submission of a task instance.
type Key struct {
	Name      string        `json:"name"`
	Point     cycling.Point `json:"cycle"`
	SubmitNum int           `json:"submit_num"`
}

// ID returns the task id "name.point".
func (k Key) ID() string { return model.TaskID(k.Name, k.Point) }

// String returns the job id "point/name/NN".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%02d", k.Point, k.Name, k.SubmitNum)
}

// Spec is what a runner needs to start a job.
type Spec struct {
	Key
	Script string
	TryNum int
	Env    []string
}

// Event is a job outcome delivered back to the scheduler.
type Event struct {
	Key
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Runner starts job processes.
type Runner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// Process is a started job.
type Process interface {
	// Wait blocks until the job exits. Custom outputs reported by the job
	// are passed to message while it runs.
	Wait(message func(output string)) error
}

// FuncRunner adapts a function to Runner. The function runs inside Wait;
// it is mostly useful in tests.
type FuncRunner func(ctx context.Context, spec Spec, message func(string)) error

// Start implements Runner.
func (f FuncRunner) Start(ctx context.Context, spec Spec) (Process, error) {
	return funcProcess{ctx: ctx, spec: spec, fn: f}, nil
}

type funcProcess struct {
	ctx  context.Context
	spec Spec
	fn   FuncRunner
}

func (p funcProcess) Wait(message func(string)) error {
	return p.fn(p.ctx, p.spec, message)
}
