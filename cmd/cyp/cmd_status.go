package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/store"
)

func (a *app) cmdStatus(c *cli.Context) error {
	st, err := a.openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.SelectTaskPool()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	runID, err := st.GetParam(paramRunID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("status: %w", err)
	}
	states, err := st.ListTaskStates()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	var updated time.Time
	for _, s := range states {
		if s.Updated.After(updated) {
			updated = s.Updated
		}
	}

	if c.Bool("json") {
		if rows == nil {
			rows = []store.PoolRow{}
		}
		a.printJSON(map[string]interface{}{
			"run_id":  runID,
			"updated": updated,
			"spawned": len(states),
			"pool":    rows,
		})
		return nil
	}

	if runID == "" {
		fmt.Fprintln(a.out, "no run recorded")
		return nil
	}
	fmt.Fprintf(a.out, "run %s\n", runID)
	if !updated.IsZero() {
		fmt.Fprintf(a.out, "last update %s, %s task instances spawned\n",
			humanize.Time(updated), humanize.Comma(int64(len(states))))
	}

	counts := map[model.Status]int{}
	for _, r := range rows {
		counts[r.Status]++
	}
	statuses := make([]model.Status, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, s := range statuses {
		fmt.Fprintf(a.out, "  %-16s %s\n", s, humanize.Comma(int64(counts[s])))
	}

	if len(rows) == 0 {
		fmt.Fprintln(a.out, "task pool is empty")
		return nil
	}
	fmt.Fprintln(a.out)
	for _, r := range rows {
		held := ""
		if r.Held {
			held = " (held)"
		}
		fmt.Fprintf(a.out, "%-24s %-16s submit %d%s\n", r.Name+"."+r.Point.String(), r.Status, r.SubmitNum, held)
	}
	return nil
}
