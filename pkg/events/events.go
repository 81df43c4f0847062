// Package events dispatches task lifecycle events to handlers.
//
// Handlers never block the scheduler. A CommandHandler runs each
// configured command on the job executor and reports completion back as
// a jobs.KindHandlerDone event, so the pool can track handlers still in
// flight.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/jobs"
)

// Event names fired by the pool besides the task outputs.
const (
	Retry             = "retry"
	SubmissionRetry   = "submission retry"
	SubmissionTimeout = "submission timeout"
	ExecutionTimeout  = "execution timeout"
	Expired           = "expired"
	KillFailed        = "kill failed"
	Custom            = "custom"
)

// Event is one task event.
type Event struct {
	Suite     string
	Name      string
	Point     cycling.Point
	SubmitNum int
	Event     string
	Message   string

	// Handlers are the command templates configured for the task.
	Handlers []string
}

// ID returns the task id.
func (e Event) ID() string { return e.Name + "." + e.Point.String() }

// Handler receives task events.
type Handler interface {
	// Handle dispatches ev and returns how many asynchronous handler
	// invocations it started.
	Handle(ev Event) int
}

// LogHandler writes every event to a structured log.
type LogHandler struct {
	Log *slog.Logger
}

// Handle implements Handler.
func (h LogHandler) Handle(ev Event) int {
	h.Log.Info("task event", "task", ev.ID(), "event", ev.Event, "submit_num", ev.SubmitNum, "message", ev.Message)
	return 0
}

// Multi fans an event out to several handlers.
type Multi []Handler

// Handle implements Handler.
func (m Multi) Handle(ev Event) int {
	n := 0
	for _, h := range m {
		n += h.Handle(ev)
	}
	return n
}

// Dispatcher is the part of the job executor command handlers use.
type Dispatcher interface {
	Go(fn func(ctx context.Context) error)
	Emit(ev jobs.Event)
}

// CommandHandler runs the task's handler commands through a shell.
type CommandHandler struct {
	Exec Dispatcher
	Log  *slog.Logger
	// RetryDelays are waited between failed attempts.
	RetryDelays []time.Duration
	// Run executes one command; nil runs it with "sh -c".
	Run func(ctx context.Context, command string) error
}

// Handle implements Handler.
func (h *CommandHandler) Handle(ev Event) int {
	for _, tmpl := range ev.Handlers {
		command := Expand(tmpl, ev)
		h.Exec.Go(func(ctx context.Context) error {
			err := h.runWithRetries(ctx, command)
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			h.Exec.Emit(jobs.Event{
				Key:     jobs.Key{Name: ev.Name, Point: ev.Point, SubmitNum: ev.SubmitNum},
				Kind:    jobs.KindHandlerDone,
				Message: msg,
			})
			return err
		})
	}
	return len(ev.Handlers)
}

func (h *CommandHandler) runWithRetries(ctx context.Context, command string) error {
	run := h.Run
	if run == nil {
		run = shellRun
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = run(ctx, command); err == nil {
			return nil
		}
		if attempt >= len(h.RetryDelays) {
			break
		}
		h.Log.Warn("event handler failed, retrying", "command", command, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.RetryDelays[attempt]):
		}
	}
	return fmt.Errorf("event handler %q: %w", command, err)
}

func shellRun(ctx context.Context, command string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Expand fills the %(key)s placeholders of a handler template: event,
// id, name, point, submit_num, message and suite. The message is shell
// quoted.
func Expand(tmpl string, ev Event) string {
	return strings.NewReplacer(
		"%(event)s", ev.Event,
		"%(id)s", ev.ID(),
		"%(name)s", ev.Name,
		"%(point)s", ev.Point.String(),
		"%(submit_num)s", strconv.Itoa(ev.SubmitNum),
		"%(message)s", shellQuote(ev.Message),
		"%(suite)s", ev.Suite,
	).Replace(tmpl)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
