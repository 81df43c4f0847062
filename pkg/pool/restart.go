package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
)

// paramAbsOutputs is the suite param holding completed outputs that
// absolute triggers depend on.
const paramAbsOutputs = "absolute_outputs"

// FlushStore writes everything that changed since the last flush: new
// task rows, state updates, job events and, when the pool changed, a new
// pool snapshot. Work that fails to write is kept for the next flush.
func (p *Pool) FlushStore() error {
	if p.store == nil {
		return nil
	}
	now := p.clock.Now()
	var errs []error

	if len(p.pendingInserts) > 0 {
		if err := p.store.PutInsertTaskStates(p.pendingInserts); err != nil {
			errs = append(errs, fmt.Errorf("insert task states: %w", err))
		} else {
			p.pendingInserts = nil
		}
	}

	all := p.AllTasks()
	updates := slices.Clone(p.pendingUpdates)
	var dirty bool
	for _, t := range all {
		if !t.Dirty() {
			continue
		}
		dirty = true
		updates = append(updates, store.TaskState{
			Name:      t.Name,
			Point:     t.Point,
			Updated:   now,
			SubmitNum: t.SubmitNum,
			Status:    t.Status(),
		})
	}
	updatesOK := true
	if len(updates) > 0 {
		if err := p.store.PutUpdateTaskStates(updates); err != nil {
			errs = append(errs, fmt.Errorf("update task states: %w", err))
			updatesOK = false
		} else {
			p.pendingUpdates = nil
		}
	}

	if len(p.pendingEvents) > 0 {
		if err := p.store.PutTaskEvents(p.pendingEvents); err != nil {
			errs = append(errs, fmt.Errorf("task events: %w", err))
		} else {
			p.pendingEvents = nil
		}
	}

	if p.poolChanged || dirty {
		rows := make([]store.PoolRow, 0, len(all))
		for _, t := range all {
			rows = append(rows, store.PoolRow{
				Point:     t.Point,
				Name:      t.Name,
				Status:    t.Status(),
				Held:      t.IsHeld(),
				SubmitNum: t.SubmitNum,
				Satisfied: t.SatisfiedPrerequisites(),
				Outputs:   t.Outputs.Completed(),
			})
		}
		if err := p.store.PutTaskPool(rows); err != nil {
			errs = append(errs, fmt.Errorf("task pool: %w", err))
		} else {
			p.poolChanged = false
			if updatesOK {
				for _, t := range all {
					t.ClearDirty()
				}
			}
		}
	}

	if p.absDirty {
		b, err := json.Marshal(slices.Sorted(maps.Keys(p.absDone)))
		if err == nil {
			err = p.store.SetParam(paramAbsOutputs, string(b))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("absolute outputs: %w", err))
		} else {
			p.absDirty = false
		}
	}
	return errors.Join(errs...)
}

// LoadFromStore rebuilds the pool from the persisted snapshot for a
// restart. Queued and ready tasks go back to waiting; their jobs were
// never submitted. Active tasks are polled. It returns the number of
// tasks loaded.
func (p *Pool) LoadFromStore() (int, error) {
	if p.store == nil {
		return 0, nil
	}
	if v, err := p.store.GetParam(paramAbsOutputs); err == nil {
		var keys []string
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return 0, fmt.Errorf("absolute outputs: %w", err)
		}
		for _, k := range keys {
			p.absDone[k] = true
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("absolute outputs: %w", err)
	}

	rows, err := p.store.SelectTaskPool()
	if err != nil {
		return 0, fmt.Errorf("load task pool: %w", err)
	}
	n := 0
	var poll []jobs.Key
	for _, row := range rows {
		id := model.TaskID(row.Name, row.Point)
		def, ok := p.cfg.TaskDef(row.Name)
		if !ok {
			p.log.Warn("ignoring task: no longer defined", "task", id)
			continue
		}
		status := row.Status
		if status == model.StatusQueued || status == model.StatusReady {
			status = model.StatusWaiting
		}
		t := p.newProxy(def, row.Point, row.SubmitNum)
		t.Restore(status, row.Held, row.Satisfied, row.Outputs)
		if t.SubmitNum > 0 {
			t.TryNum = 1
			t.SubmitTryNum = 1
		}
		if !p.AddToRunahead(t, false) {
			continue
		}
		p.log.Info("loaded", "task", id, "status", status.String())
		if status.IsActive() {
			poll = append(poll, jobs.Key{Name: t.Name, Point: t.Point, SubmitNum: t.SubmitNum})
		}
		n++
	}
	if len(poll) > 0 {
		p.jobs.Poll(poll)
	}
	return n, nil
}
