package pool

import (
	"maps"
	"slices"
	"time"

	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/task"
)

// GetReadyTasks queues every main-pool task that is ready to run, then
// releases queued tasks from each queue up to its limit. A manually
// triggered task is released regardless of the limit.
func (p *Pool) GetReadyTasks() []*task.Proxy {
	now := p.clock.Now()
	var ready []*task.Proxy
	for _, name := range slices.Sorted(maps.Keys(p.queues)) {
		hs := p.queues[name]

		// Newly queued tasks go to the back of the queue.
		var stay, moved []Handle
		for _, h := range hs {
			t := p.proxy(h)
			if t.Status() != model.StatusQueued && !t.IsHeld() && t.ReadyToRun(now) {
				t.SetStatus(model.StatusQueued)
				moved = append(moved, h)
				continue
			}
			stay = append(stay, h)
		}
		hs = append(stay, moved...)
		p.queues[name] = hs

		limit := p.cfg.QueueLimit(name)
		nRelease := 0
		if limit > 0 {
			active := 0
			for _, h := range hs {
				if p.proxy(h).Status().IsQueueActive() {
					active++
				}
			}
			nRelease = limit - active
		}
		for _, h := range hs {
			t := p.proxy(h)
			if t.Status() != model.StatusQueued {
				continue
			}
			if t.IsHeld() && !t.ManualTrigger {
				continue
			}
			if t.ManualTrigger || limit == 0 || nRelease > 0 {
				nRelease--
				t.ManualTrigger = false
				ready = append(ready, t)
			}
		}
	}
	return ready
}

// SubmitTasks sets ts ready and hands their jobs to the job port. It
// returns the number of jobs submitted.
func (p *Pool) SubmitTasks(ts []*task.Proxy) int {
	var specs []jobs.Spec
	for _, t := range ts {
		if _, ok := p.handleOf(t); !ok {
			continue
		}
		t.SetStatus(model.StatusReady)
		t.SubmitNum++
		if t.TryNum == 0 {
			t.TryNum = 1
		}
		if t.SubmitTryNum == 0 {
			t.SubmitTryNum = 1
		}
		t.RetryAt = time.Time{}
		t.SubmissionDeadline = time.Time{}
		t.ExecutionDeadline = time.Time{}
		t.KillFailed = false
		t.MarkDirty()
		p.log.Info("submitting job", "task", t.ID(), "submit_num", t.SubmitNum, "try", t.TryNum)
		specs = append(specs, jobs.Spec{
			Key:    jobs.Key{Name: t.Name, Point: t.Point, SubmitNum: t.SubmitNum},
			Script: t.Def.Script,
			TryNum: t.TryNum,
		})
	}
	if len(specs) > 0 {
		p.jobs.Submit(specs)
	}
	return len(specs)
}
