// Command cyp is the cyclepool CLI: validate a suite, list its cycle
// points, run it, and inspect a run's database.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const version = "0.3.0"

const (
	defaultDir = ".cyclepool"
	defaultDB  = defaultDir + "/cyclepool.db"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitStalled = 2
)

func main() {
	if err := newCLI(newApp()).Run(os.Args); err != nil {
		fatal("%v", err)
	}
}

func newCLI(a *app) *cli.App {
	c := cli.NewApp()
	c.Name = "cyp"
	c.Usage = "cycle-based workflow scheduler"
	c.Version = version
	c.UsageText = "cyp <command> [flags] [arguments...]"
	c.Description = description
	c.Writer = a.out
	c.ErrWriter = a.errOut
	c.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "db",
			Value: envOr("CYCLEPOOL_DB", defaultDB),
			Usage: "run database path (env CYCLEPOOL_DB)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: envOr("CYCLEPOOL_LOG_LEVEL", "info"),
			Usage: "debug, info, warn or error (env CYCLEPOOL_LOG_LEVEL)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: envOr("CYCLEPOOL_LOG_FORMAT", "text"),
			Usage: "text or json (env CYCLEPOOL_LOG_FORMAT)",
		},
	}
	c.Commands = []cli.Command{
		{
			Name:      "validate",
			Usage:     "parse a suite file and summarise its tasks",
			ArgsUsage: "[suite.yaml]",
			Flags:     []cli.Flag{jsonFlag},
			Action:    a.cmdValidate,
		},
		{
			Name:      "points",
			Usage:     "list the first cycle points of each recurrence",
			ArgsUsage: "[suite.yaml]",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "count, n", Value: 5, Usage: "points per recurrence"},
				jsonFlag,
			},
			Action: a.cmdPoints,
		},
		{
			Name:      "run",
			Usage:     "run a suite, or restart it from the run database",
			ArgsUsage: "[suite.yaml]",
			Flags:     runFlags(),
			Action:    a.cmdRun,
		},
		{
			Name:   "status",
			Usage:  "show the stored task pool of a run",
			Flags:  []cli.Flag{jsonFlag},
			Action: a.cmdStatus,
		},
		{
			Name:      "history",
			Usage:     "show recorded task events",
			ArgsUsage: "[name.point]",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit, l", Value: 50, Usage: "most recent events to show (0 for all)"},
				jsonFlag,
			},
			Action: a.cmdHistory,
		},
	}
	return c
}

var jsonFlag = cli.BoolFlag{Name: "json", Usage: "JSON output"}

const description = `Tasks are spawned per cycle point as their parents complete, admitted
   through a runahead window, limited by queues and run as shell jobs.

   Environment:
     CYCLEPOOL_DB           run database path (default: .cyclepool/cyclepool.db)
     CYCLEPOOL_SUITE        suite file used when no argument is given
     CYCLEPOOL_LOG_LEVEL    log level (default: info)
     CYCLEPOOL_LOG_FORMAT   text or json (default: text)
     CYCLEPOOL_LOG_DIR      job log directory (default: .cyclepool/log)
     CYCLEPOOL_MAX_JOBS     concurrent jobs (default: 8)
     CYCLEPOOL_SUBMIT_RATE  job starts per second, 0 for unlimited
     CYCLEPOOL_INTERVAL     scheduler tick (default: 1s)

   Exit codes:
     0  success
     1  error
     2  suite stalled`

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "cyp: "+format+"\n", args...)
	os.Exit(exitError)
}
