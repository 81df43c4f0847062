package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"

	"github.com/daviddao/cyclepool/pkg/cycling"
)

func (a *app) cmdValidate(c *cli.Context) error {
	cfg, path, err := a.loadSuite(c)
	if err != nil {
		return err
	}

	final := "none"
	if fp, ok := cfg.FinalPoint(); ok {
		final = fp.String()
	}
	names := cfg.TaskNames()

	if c.Bool("json") {
		type queueInfo struct {
			Name  string `json:"name"`
			Limit int    `json:"limit"`
		}
		queues := make([]queueInfo, 0)
		for _, q := range cfg.Queues() {
			queues = append(queues, queueInfo{Name: q, Limit: cfg.QueueLimit(q)})
		}
		a.printJSON(map[string]interface{}{
			"suite":               cfg.Name,
			"file":                path,
			"initial_cycle_point": cfg.InitialPoint(),
			"final_cycle_point":   final,
			"tasks":               names,
			"queues":              queues,
		})
		return nil
	}

	fmt.Fprintf(a.out, "%s: suite %q is valid\n", path, cfg.Name)
	fmt.Fprintf(a.out, "cycle points: %s to %s\n", cfg.InitialPoint(), final)
	fmt.Fprintf(a.out, "tasks (%d):\n", len(names))
	for _, name := range names {
		fmt.Fprintf(a.out, "  %s\n", cfg.Describe(name))
	}
	fmt.Fprintln(a.out, "queues:")
	for _, q := range cfg.Queues() {
		limit := "unlimited"
		if n := cfg.QueueLimit(q); n > 0 {
			limit = fmt.Sprintf("limit %d", n)
		}
		fmt.Fprintf(a.out, "  %-16s %s\n", q, limit)
	}
	return nil
}

func (a *app) cmdPoints(c *cli.Context) error {
	cfg, _, err := a.loadSuite(c)
	if err != nil {
		return err
	}
	n := c.Int("count")
	if n < 1 {
		return fmt.Errorf("points: --count must be at least 1")
	}

	out := map[string][]cycling.Point{}
	var order []string
	for _, seq := range cfg.Sequences() {
		out[seq.String()] = seq.Points(n)
		order = append(order, seq.String())
	}
	if c.Bool("json") {
		a.printJSON(out)
		return nil
	}
	for _, expr := range order {
		pts := make([]string, len(out[expr]))
		for i, p := range out[expr] {
			pts[i] = p.String()
		}
		fmt.Fprintf(a.out, "%-16s %s\n", expr, strings.Join(pts, " "))
	}
	return nil
}
