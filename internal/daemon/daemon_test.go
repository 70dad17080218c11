package daemon

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestReadTriggerMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	head, modTime, err := ReadTrigger(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != "" || !modTime.IsZero() {
		t.Fatalf("expected empty trigger state, got head=%q modTime=%v", head, modTime)
	}
}

func TestWriteThenReadTriggerRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := WriteTrigger(dir, "abc123"); err != nil {
		t.Fatalf("WriteTrigger: %v", err)
	}
	head, modTime, err := ReadTrigger(dir)
	if err != nil {
		t.Fatalf("ReadTrigger: %v", err)
	}
	if head != "abc123" {
		t.Fatalf("expected head abc123, got %q", head)
	}
	if modTime.IsZero() {
		t.Fatalf("expected non-zero modTime after write")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if got := ReadPID(dir); got != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), got)
	}
	RemovePID(dir)
	if got := ReadPID(dir); got != 0 {
		t.Fatalf("expected 0 after RemovePID, got %d", got)
	}
}

func TestReadPIDMissingFileReturnsZero(t *testing.T) {
	dir := t.TempDir()
	if got := ReadPID(dir); got != 0 {
		t.Fatalf("expected 0 for missing PID file, got %d", got)
	}
}

func TestIsProcessAliveRejectsNonPositivePID(t *testing.T) {
	tests := []int{0, -1, -100}
	for _, pid := range tests {
		if isProcessAlive(pid) {
			t.Fatalf("expected pid %d to be reported as not alive", pid)
		}
	}
}

func TestIsProcessAliveTrueForOwnProcess(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Fatalf("expected the current process to be reported alive")
	}
}

func TestLoopExitsAfterGracePeriodWithNoNewTrigger(t *testing.T) {
	dir := t.TempDir()
	origGrace := GracePeriod
	GracePeriod = 20 * time.Millisecond
	defer func() { GracePeriod = origGrace }()

	calls := 0
	run := func(ctx context.Context, repoDir string) error {
		calls++
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- Loop(context.Background(), dir, run, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Loop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Loop did not exit within timeout")
	}

	if calls != 1 {
		t.Fatalf("expected exactly one run when no new trigger arrives, got %d", calls)
	}
	if IsAlive(dir) {
		t.Fatalf("expected PID file to be cleaned up after Loop exits")
	}
}

func TestLoopSkipsWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	defer RemovePID(dir)

	calls := 0
	run := func(ctx context.Context, repoDir string) error {
		calls++
		return nil
	}

	if err := Loop(context.Background(), dir, run, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected run to be skipped when a daemon is already alive, got %d calls", calls)
	}
}

func TestRunOnceCallsRunExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	run := func(ctx context.Context, repoDir string) error {
		calls++
		return nil
	}
	if err := RunOnce(context.Background(), dir, run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}
