package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/daviddao/cyclepool/pkg/store"
)

func (a *app) cmdHistory(c *cli.Context) error {
	st, err := a.openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	id := c.Args().First()
	evs, err := st.ListTaskEvents(id, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	if c.Bool("json") {
		if evs == nil {
			evs = []store.TaskEvent{}
		}
		a.printJSON(evs)
		return nil
	}
	if len(evs) == 0 {
		fmt.Fprintln(a.out, "no events")
		return nil
	}
	for _, e := range evs {
		line := fmt.Sprintf("%-14s %-24s #%d %s", humanize.Time(e.Time), e.Name+"."+e.Point.String(), e.SubmitNum, e.Event)
		if e.Message != "" {
			line += ": " + e.Message
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}
