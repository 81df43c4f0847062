// Package model defines the core domain types for cyclepool.
//
// A suite is a graph of named tasks that repeat over sequences of cycle
// points. Each (name, point) occurrence of a task is instantiated as a
// task proxy whose lifecycle is tracked by a Status. The held flag is kept
// separately from the status: a held task keeps its underlying status but
// is never admitted to a queue.
//
// Tasks complete outputs as they progress (submitted, started, succeeded,
// ...). Downstream tasks trigger off those outputs, named in the graph
// either directly or through short trigger aliases such as "fail".
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daviddao/cyclepool/pkg/cycling"
)

// Status is the lifecycle state of a task proxy.
type Status int

const (
	StatusWaiting Status = iota
	StatusQueued
	StatusReady
	StatusExpired
	StatusSubmitted
	StatusSubmitFailed
	StatusSubmitRetrying
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusRetrying
)

var statusNames = [...]string{
	StatusWaiting:        "waiting",
	StatusQueued:         "queued",
	StatusReady:          "ready",
	StatusExpired:        "expired",
	StatusSubmitted:      "submitted",
	StatusSubmitFailed:   "submit-failed",
	StatusSubmitRetrying: "submit-retrying",
	StatusRunning:        "running",
	StatusSucceeded:      "succeeded",
	StatusFailed:         "failed",
	StatusRetrying:       "retrying",
}

// ErrUnknownStatus is returned by ParseStatus for unrecognised names.
var ErrUnknownStatus = errors.New("unknown task status")

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus returns the Status named s.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IsFinished reports whether s is terminal: succeeded, failed or expired.
func (s Status) IsFinished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusExpired
}

// IsSpent reports whether s is a finished state whose outputs are all
// anyone will ever get: succeeded or expired.
func (s Status) IsSpent() bool {
	return s == StatusSucceeded || s == StatusExpired
}

// IsActive reports whether a job exists for the task.
func (s Status) IsActive() bool {
	return s == StatusSubmitted || s == StatusRunning
}

// IsQueueActive reports whether s counts against a queue limit.
func (s Status) IsQueueActive() bool {
	return s == StatusReady || s == StatusSubmitted || s == StatusRunning
}

// CanHold reports whether holding a task in state s stops it from
// running. Active tasks can only be held on their next retry.
func (s Status) CanHold() bool {
	switch s {
	case StatusWaiting, StatusQueued, StatusSubmitRetrying, StatusRetrying:
		return true
	}
	return false
}

// IsRetrying reports whether s is waiting on a retry delay.
func (s Status) IsRetrying() bool {
	return s == StatusRetrying || s == StatusSubmitRetrying
}

// ResetTarget is a state an operator may reset a task to.
type ResetTarget string

const (
	ResetWaiting   ResetTarget = "waiting"
	ResetHeld      ResetTarget = "held"
	ResetReady     ResetTarget = "ready"
	ResetSucceeded ResetTarget = "succeeded"
	ResetFailed    ResetTarget = "failed"
)

// ErrIllegalReset is returned for reset targets outside the legal set.
var ErrIllegalReset = errors.New("illegal reset state")

// ParseResetTarget validates an operator-supplied reset state.
func ParseResetTarget(s string) (ResetTarget, error) {
	switch t := ResetTarget(s); t {
	case ResetWaiting, ResetHeld, ResetReady, ResetSucceeded, ResetFailed:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrIllegalReset, s)
}

// Standard task outputs.
const (
	OutputSubmitted    = "submitted"
	OutputStarted      = "started"
	OutputSucceeded    = "succeeded"
	OutputFailed       = "failed"
	OutputSubmitFailed = "submit-failed"
	OutputExpired      = "expired"
)

// StandardOutputs lists the outputs every task has, in completion order.
var StandardOutputs = []string{
	OutputSubmitted,
	OutputStarted,
	OutputSucceeded,
	OutputFailed,
	OutputSubmitFailed,
	OutputExpired,
}

var triggerAliases = map[string]string{
	"submit":      OutputSubmitted,
	"submit-fail": OutputSubmitFailed,
	"start":       OutputStarted,
	"succeed":     OutputSucceeded,
	"fail":        OutputFailed,
	"expire":      OutputExpired,
}

// NormalizeOutput maps a graph trigger alias ("fail") to its output
// name ("failed"). Output names and custom messages pass through.
func NormalizeOutput(s string) string {
	if out, ok := triggerAliases[s]; ok {
		return out
	}
	return s
}

// IsStandardOutput reports whether s is one of StandardOutputs.
func IsStandardOutput(s string) bool {
	for _, o := range StandardOutputs {
		if o == s {
			return true
		}
	}
	return false
}

// IsFinishOutput reports whether completing output means the task has
// finished.
func IsFinishOutput(s string) bool {
	return s == OutputSucceeded || s == OutputFailed || s == OutputExpired
}

// ErrBadTaskID is returned by ParseTaskID.
var ErrBadTaskID = errors.New("bad task id")

// TaskID returns the canonical "name.point" identity string.
func TaskID(name string, p cycling.Point) string {
	return name + "." + p.String()
}

// ParseTaskID splits a "name.point" identity.
func ParseTaskID(id string) (string, cycling.Point, error) {
	i := strings.LastIndex(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadTaskID, id)
	}
	p, err := cycling.ParsePoint(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %v", ErrBadTaskID, id, err)
	}
	return id[:i], p, nil
}
