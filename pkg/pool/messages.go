package pool

import (
	"time"

	"github.com/daviddao/cyclepool/pkg/clock"
	"github.com/daviddao/cyclepool/pkg/events"
	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
	"github.com/daviddao/cyclepool/pkg/task"
)

// HandleJobEvent applies a job outcome to its task. Events for tasks no
// longer in the pool, or for an older submission, are ignored. Callbacks
// may arrive out of order: a late "submitted" never moves a running task
// back.
func (p *Pool) HandleJobEvent(ev jobs.Event) {
	t := p.Get(ev.Name, ev.Point)
	if t == nil {
		p.log.Debug("job event for task not in pool", "task", ev.ID(), "event", ev.Kind)
		return
	}
	if ev.Kind == jobs.KindHandlerDone {
		if t.PendingEventRetries > 0 {
			t.PendingEventRetries--
		}
		if ev.Message != "" {
			p.log.Warn("event handler failed", "task", t.ID(), "error", ev.Message)
		}
		return
	}
	if ev.SubmitNum != t.SubmitNum {
		p.log.Debug("job event for old submission", "task", t.ID(), "event", ev.Kind,
			"submit_num", ev.SubmitNum, "current", t.SubmitNum)
		return
	}

	now := ev.Time
	if now.IsZero() {
		now = p.clock.Now()
	}
	p.recordEvent(t, ev.Kind, ev.Message, now)

	switch ev.Kind {
	case jobs.KindSubmitted:
		if t.Status() == model.StatusReady {
			t.SetStatus(model.StatusSubmitted)
			t.SubmissionDeadline = clock.Deadline(now, t.Def.SubmissionTimeout)
			p.fireEvent(t, model.OutputSubmitted, "")
		}
		p.completeOutput(t, model.OutputSubmitted)

	case jobs.KindStarted:
		if t.Status() == model.StatusReady || t.Status() == model.StatusSubmitted {
			t.SetStatus(model.StatusRunning)
			t.SubmissionDeadline = time.Time{}
			t.ExecutionDeadline = clock.Deadline(now, t.Def.ExecutionTimeout)
			p.fireEvent(t, model.OutputStarted, "")
		}
		p.completeOutput(t, model.OutputSubmitted)
		p.completeOutput(t, model.OutputStarted)

	case jobs.KindSucceeded:
		if t.Status().IsFinished() {
			return
		}
		p.clearDeadlines(t)
		t.SetStatus(model.StatusSucceeded)
		p.log.Info("job succeeded", "task", t.ID())
		p.fireEvent(t, model.OutputSucceeded, ev.Message)
		p.completeOutput(t, model.OutputSubmitted)
		p.completeOutput(t, model.OutputStarted)
		p.completeOutput(t, model.OutputSucceeded)

	case jobs.KindFailed:
		p.jobFailed(t, ev.Message, now)

	case jobs.KindSubmitFailed:
		if t.Status().IsFinished() {
			return
		}
		p.clearDeadlines(t)
		if delays := t.Def.SubmitRetryDelays; t.SubmitTryNum >= 1 && t.SubmitTryNum <= len(delays) {
			t.RetryAt = now.Add(delays[t.SubmitTryNum-1])
			t.SubmitTryNum++
			t.SetStatus(model.StatusSubmitRetrying)
			p.log.Warn("job submission failed, retrying", "task", t.ID(), "retry_at", t.RetryAt)
			p.fireEvent(t, events.SubmissionRetry, ev.Message)
			return
		}
		t.SetStatus(model.StatusSubmitFailed)
		p.log.Warn("job submission failed", "task", t.ID(), "message", ev.Message)
		p.fireEvent(t, model.OutputSubmitFailed, ev.Message)
		p.completeOutput(t, model.OutputSubmitFailed)

	case jobs.KindMessage:
		out := model.NormalizeOutput(ev.Message)
		if model.IsStandardOutput(out) || !t.Outputs.Has(out) {
			p.log.Warn("unhandled job message", "task", t.ID(), "message", ev.Message)
			return
		}
		if p.completeOutput(t, out) {
			p.fireEvent(t, events.Custom, out)
		}

	case jobs.KindKillFailed:
		t.KillFailed = true
		t.MarkDirty()
		p.log.Warn("job kill failed", "task", t.ID(), "message", ev.Message)
		p.fireEvent(t, events.KillFailed, ev.Message)

	case jobs.KindPollFailed:
		if t.Status().IsActive() {
			p.log.Warn("job poll failed, job lost", "task", t.ID(), "message", ev.Message)
			p.jobFailed(t, "job lost: "+ev.Message, now)
			return
		}
		p.log.Warn("job poll failed", "task", t.ID(), "message", ev.Message)

	default:
		p.log.Warn("unknown job event", "task", t.ID(), "event", ev.Kind)
	}
}

// jobFailed retries t if it has retry delays left, otherwise fails it.
func (p *Pool) jobFailed(t *task.Proxy, msg string, now time.Time) {
	if t.Status().IsFinished() {
		return
	}
	p.clearDeadlines(t)
	if delays := t.Def.RetryDelays; t.TryNum >= 1 && t.TryNum <= len(delays) {
		t.RetryAt = now.Add(delays[t.TryNum-1])
		t.TryNum++
		t.SetStatus(model.StatusRetrying)
		p.log.Warn("job failed, retrying", "task", t.ID(), "try", t.TryNum, "retry_at", t.RetryAt)
		p.fireEvent(t, events.Retry, msg)
		return
	}
	t.SetStatus(model.StatusFailed)
	p.log.Warn("job failed", "task", t.ID(), "message", msg)
	p.fireEvent(t, model.OutputFailed, msg)
	p.completeOutput(t, model.OutputFailed)
}

func (p *Pool) clearDeadlines(t *task.Proxy) {
	t.SubmissionDeadline = time.Time{}
	t.ExecutionDeadline = time.Time{}
}

// completeOutput marks output complete on t. It reports whether it was
// newly completed, in which case the children are requested.
func (p *Pool) completeOutput(t *task.Proxy, output string) bool {
	if !t.CompleteOutput(output) {
		return false
	}
	p.outputDone(t, output)
	return true
}

// fireEvent passes an event to the handlers. The handlers still running
// keep the task from being cleaned up.
func (p *Pool) fireEvent(t *task.Proxy, event, msg string) {
	n := p.events.Handle(events.Event{
		Suite:     p.cfg.Name,
		Name:      t.Name,
		Point:     t.Point,
		SubmitNum: t.SubmitNum,
		Event:     event,
		Message:   msg,
		Handlers:  t.Def.EventHandlers,
	})
	if n > 0 {
		t.PendingEventRetries += n
	}
}

func (p *Pool) recordEvent(t *task.Proxy, event, msg string, at time.Time) {
	p.pendingEvents = append(p.pendingEvents, store.TaskEvent{
		Name:      t.Name,
		Point:     t.Point,
		Time:      at,
		SubmitNum: t.SubmitNum,
		Event:     event,
		Message:   msg,
	})
}

// CheckTaskTimers polls active jobs whose submission or execution
// deadline has passed. The task status is left alone; the poll result
// decides. It returns the number of polls requested.
func (p *Pool) CheckTaskTimers(now time.Time) int {
	var keys []jobs.Key
	for _, t := range p.Tasks() {
		var event string
		switch t.Status() {
		case model.StatusSubmitted:
			if !clock.Passed(t.SubmissionDeadline, now) {
				continue
			}
			t.SubmissionDeadline = time.Time{}
			event = events.SubmissionTimeout
		case model.StatusRunning:
			if !clock.Passed(t.ExecutionDeadline, now) {
				continue
			}
			t.ExecutionDeadline = time.Time{}
			event = events.ExecutionTimeout
		default:
			continue
		}
		p.log.Warn("job timed out, polling", "task", t.ID(), "event", event)
		p.recordEvent(t, event, "", now)
		p.fireEvent(t, event, "")
		keys = append(keys, jobs.Key{Name: t.Name, Point: t.Point, SubmitNum: t.SubmitNum})
	}
	if len(keys) > 0 {
		p.jobs.Poll(keys)
	}
	return len(keys)
}
