package pool

import (
	"slices"

	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/suite"
)

// Reload swaps in a new suite definition.
//
// Tasks whose names are gone from cfg are orphans: inactive orphans are
// removed and active ones finish their job but spawn nothing. Inactive
// tasks are rebuilt from their new definition with their runtime state
// carried over. Tasks with a live job keep the old definition until they
// finish.
func (p *Pool) Reload(cfg *suite.Config) {
	old := p.cfg
	newNames := cfg.TaskNames()
	var orphans []string
	for _, name := range old.TaskNames() {
		if !slices.Contains(newNames, name) {
			orphans = append(orphans, name)
		}
	}
	for _, name := range p.orphans {
		if !slices.Contains(newNames, name) && !slices.Contains(orphans, name) {
			orphans = append(orphans, name)
		}
	}
	p.orphans = orphans

	p.log.Info("reloading task definitions", "suite", cfg.Name, "orphans", len(orphans))
	p.applyConfig(cfg)

	for _, t := range p.AllTasks() {
		if slices.Contains(orphans, t.Name) {
			switch t.Status() {
			case model.StatusWaiting, model.StatusQueued, model.StatusRetrying, model.StatusSubmitRetrying:
				p.log.Warn("removed task: no longer defined", "task", t.ID())
				p.remove(t, "suite definition reload")
				continue
			}
			if t.IsHeld() {
				p.log.Warn("removed task: no longer defined", "task", t.ID())
				p.remove(t, "suite definition reload")
				continue
			}
			t.NoSpawn = true
			p.log.Warn("last instance: task removed from suite definition", "task", t.ID(), "status", t.Status().String())
			continue
		}

		if t.Status().IsQueueActive() {
			p.log.Warn("job is active with pre-reload settings", "task", t.ID(), "status", t.Status().String())
			continue
		}
		def, ok := cfg.TaskDef(t.Name)
		if !ok {
			continue
		}
		nt := p.newProxy(def, t.Point, t.SubmitNum)
		nt.StopPoint = t.StopPoint
		nt.CopyStateFrom(t)
		wasMain := !p.arena.at(p.byID[t.ID()]).runahead
		p.detach(t)
		if !p.AddToRunahead(nt, false) {
			continue
		}
		if wasMain {
			p.release(p.byID[nt.ID()])
		}
		p.log.Debug("reloaded task definition", "task", nt.ID())
	}

	// Queue membership may have changed for every task.
	p.queues = map[string][]Handle{}
	for _, h := range p.collect(p.mainByPoint) {
		s := p.arena.at(h)
		s.queue = cfg.QueueOf(s.proxy.Name)
		p.queues[s.queue] = append(p.queues[s.queue], h)
	}
	p.setMaxFutureOffset()
	p.log.Info("reload completed")
}
