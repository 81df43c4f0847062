package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/daviddao/cyclepool/pkg/logger"
	"github.com/daviddao/cyclepool/pkg/store"
	"github.com/daviddao/cyclepool/pkg/suite"
)

// paramRunID is the suite param naming the latest run.
const paramRunID = "run_id"

// app holds shared state for all CLI subcommands.
type app struct {
	fs     afero.Fs // suite files and job logs
	out    io.Writer
	errOut io.Writer
}

func newApp() *app {
	return &app{fs: afero.NewOsFs(), out: os.Stdout, errOut: os.Stderr}
}

// openStore opens the run database named by --db. Creates the
// .cyclepool/ directory if using the default DB path.
func (a *app) openStore(c *cli.Context) (*store.Store, error) {
	dbPath := c.GlobalString("db")
	if dbPath == defaultDB {
		if err := os.MkdirAll(defaultDir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", defaultDir, err)
		}
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}
	return s, nil
}

// loadSuite reads the suite file named by the first argument, falling
// back to CYCLEPOOL_SUITE.
func (a *app) loadSuite(c *cli.Context) (*suite.Config, string, error) {
	path := c.Args().First()
	if path == "" {
		path = envOr("CYCLEPOOL_SUITE", "")
	}
	if path == "" {
		return nil, "", fmt.Errorf("no suite file: pass one or set CYCLEPOOL_SUITE")
	}
	cfg, err := suite.LoadFile(a.fs, path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// logger builds the structured logger from the global flags. Logs go to
// stderr so they don't interfere with command output.
func (a *app) logger(c *cli.Context) (*slog.Logger, error) {
	return logger.New(a.errOut, c.GlobalString("log-level"), c.GlobalString("log-format"))
}

// printJSON writes v to the app's output as indented JSON.
func (a *app) printJSON(v interface{}) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envOr(key, "")); err == nil {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(envOr(key, ""), 64); err == nil {
		return f
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envOr(key, "")); err == nil {
		return d
	}
	return def
}
