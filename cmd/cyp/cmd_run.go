package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/daviddao/cyclepool/pkg/clock"
	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/events"
	"github.com/daviddao/cyclepool/pkg/jobs"
	"github.com/daviddao/cyclepool/pkg/logger"
	"github.com/daviddao/cyclepool/pkg/pool"
	"github.com/daviddao/cyclepool/pkg/scheduler"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "log-dir",
			Value: envOr("CYCLEPOOL_LOG_DIR", defaultDir+"/log"),
			Usage: "job log directory (env CYCLEPOOL_LOG_DIR)",
		},
		cli.IntFlag{
			Name:  "max-jobs",
			Value: envInt("CYCLEPOOL_MAX_JOBS", 8),
			Usage: "concurrent jobs and event handlers (env CYCLEPOOL_MAX_JOBS)",
		},
		cli.Float64Flag{
			Name:  "submit-rate",
			Value: envFloat("CYCLEPOOL_SUBMIT_RATE", 0),
			Usage: "job starts per second, 0 for unlimited (env CYCLEPOOL_SUBMIT_RATE)",
		},
		cli.DurationFlag{
			Name:  "interval",
			Value: envDuration("CYCLEPOOL_INTERVAL", scheduler.DefaultInterval),
			Usage: "scheduler tick (env CYCLEPOOL_INTERVAL)",
		},
		cli.StringFlag{Name: "stop-point", Usage: "do not run tasks beyond this cycle point"},
		cli.StringFlag{Name: "hold-point", Usage: "hold tasks beyond this cycle point"},
		cli.StringFlag{Name: "stop-task", Usage: "stop once this task (name.point) finishes"},
		cli.BoolFlag{Name: "hold", Usage: "start with every task held"},
		cli.BoolFlag{Name: "abort-on-stall", Usage: "exit with status 2 when the suite stalls"},
	}
}

func (a *app) cmdRun(c *cli.Context) error {
	cfg, path, err := a.loadSuite(c)
	if err != nil {
		return err
	}
	st, err := a.openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()
	base, err := a.logger(c)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	if err := st.SetParam(paramRunID, runID); err != nil {
		return fmt.Errorf("run: record run id: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, base)
	log.Info("starting run", "suite", cfg.Name, "file", path)

	ex := jobs.NewExecutor(ctx,
		&jobs.ShellRunner{Fs: a.fs, LogDir: c.String("log-dir")},
		jobs.Options{MaxJobs: c.Int("max-jobs"), SubmitRate: c.Float64("submit-rate")},
		clock.Real{}, log)
	defer ex.Close()

	handlers := events.Multi{
		events.LogHandler{Log: log},
		&events.CommandHandler{Exec: ex, Log: log, RetryDelays: []time.Duration{time.Second, 5 * time.Second}},
	}
	p := pool.New(cfg, pool.Options{Store: st, Jobs: ex, Events: handlers, Logger: log})
	if err := applyRunFlags(c, p); err != nil {
		return err
	}

	s := scheduler.New(p, ex, scheduler.Options{
		Interval:     c.Duration("interval"),
		AbortOnStall: c.Bool("abort-on-stall"),
		Logger:       log,
	})
	if err := s.Start(); err != nil {
		return err
	}
	if c.Bool("hold") {
		p.HoldAll()
	}

	reason, err := s.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintf(a.out, "run %s: %s after %s iterations\n", runID, reason, humanize.Comma(int64(s.Iterations())))
	if reason == scheduler.ReasonStalled {
		return cli.NewExitError("cyp: suite stalled", exitStalled)
	}
	return nil
}

// applyRunFlags sets the run's stop point, hold point and stop task.
func applyRunFlags(c *cli.Context, p *pool.Pool) error {
	initial := p.Config().InitialPoint()
	if v := c.String("stop-point"); v != "" {
		pt, err := cycling.PointRelative(v, initial)
		if err != nil {
			return fmt.Errorf("--stop-point: %w", err)
		}
		p.SetStopPoint(&pt)
	}
	if v := c.String("hold-point"); v != "" {
		pt, err := cycling.PointRelative(v, initial)
		if err != nil {
			return fmt.Errorf("--hold-point: %w", err)
		}
		p.SetHoldPoint(pt)
	}
	if v := c.String("stop-task"); v != "" {
		if err := p.SetStopTask(v); err != nil {
			return fmt.Errorf("--stop-task: %w", err)
		}
	}
	return nil
}
