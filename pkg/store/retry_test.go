package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"non-transient", errors.New("syntax error"), false},
		{"busy text", errors.New("SQLITE_BUSY"), true},
		{"locked text", errors.New("SQLITE_LOCKED"), true},
		{"short read text", errors.New("IOERR_SHORT_READ"), true},
		{"database is locked", errors.New("database is locked"), true},
		{"database table is locked", errors.New("database table is locked"), true},
		{"code 5", errors.New("sqlite: (5) database is busy"), true},
		{"code 522", errors.New("sqlite: (522) short read"), true},
		{"wrapped with %v", fmt.Errorf("flush pool: %v", errors.New("database is locked")), true},
		{"constraint", errors.New("UNIQUE constraint failed: task_pool.name"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientSQLiteErr(tt.err); got != tt.want {
				t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// A real driver error is classified by its result code, not its text.
func TestIsTransientSQLiteErr_DriverError(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_, err = s.db.Exec(`INSERT INTO suite_params (key, value) VALUES ('k', NULL)`)
	if err == nil {
		t.Fatal("expected NOT NULL constraint error")
	}
	if isTransientSQLiteErr(err) {
		t.Fatalf("constraint error classified as transient: %v", err)
	}
}

func TestRetryOp(t *testing.T) {
	fast := retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
	permanent := errors.New("syntax error near SELECT")

	tests := []struct {
		name      string
		cfg       retryConfig
		failUntil int // calls before success; -1 fails forever
		failWith  error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds immediately", fast, 0, nil, 1, false},
		{"permanent error not retried", fast, -1, permanent, 1, true},
		{"transient then success", fast, 2, errors.New("SQLITE_BUSY"), 3, false},
		{"short read retried", fast, 1, errors.New("(522) IOERR_SHORT_READ"), 2, false},
		{"exhausts retries", fast, -1, errors.New("SQLITE_BUSY"), 3, true},
		{"zero retries means one attempt", retryConfig{baseDelay: time.Millisecond, maxDelay: time.Millisecond}, -1, errors.New("SQLITE_BUSY"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryOp(tt.cfg, func() error {
				calls++
				if tt.failUntil < 0 || calls <= tt.failUntil {
					return tt.failWith
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := retryConfig{baseDelay: 50 * time.Millisecond, maxDelay: 500 * time.Millisecond}
	for attempt, lo := range []time.Duration{50, 100, 200} {
		lo *= time.Millisecond
		d := backoffDelay(cfg, attempt)
		if d < lo || d >= lo+cfg.baseDelay {
			t.Errorf("attempt %d delay %v not in [%v, %v)", attempt, d, lo, lo+cfg.baseDelay)
		}
	}

	capped := retryConfig{baseDelay: 100 * time.Millisecond, maxDelay: 200 * time.Millisecond}
	if d := backoffDelay(capped, 5); d >= 300*time.Millisecond {
		t.Errorf("attempt 5 delay %v should be capped near 200ms", d)
	}
}
