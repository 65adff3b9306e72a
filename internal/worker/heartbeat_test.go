package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.log")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test log: %v", err)
	}
	return path
}

func TestLastHeartbeatPrefersHeartbeatOverStart(t *testing.T) {
	started := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	beat := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	path := writeLog(t,
		SentinelWorkerStarted+" "+started,
		SentinelHeartbeat+" "+beat,
	)

	got, err := LastHeartbeat(path)
	if err != nil {
		t.Fatalf("LastHeartbeat: %v", err)
	}
	want, _ := time.Parse(time.RFC3339, beat)
	if !got.Equal(want) {
		t.Errorf("expected the most recent heartbeat to win, got %v want %v", got, want)
	}
}

func TestLastHeartbeatFallsBackToWorkerStarted(t *testing.T) {
	started := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	path := writeLog(t, SentinelWorkerStarted+" "+started)

	got, err := LastHeartbeat(path)
	if err != nil {
		t.Fatalf("LastHeartbeat: %v", err)
	}
	want, _ := time.Parse(time.RFC3339, started)
	if !got.Equal(want) {
		t.Errorf("expected fallback to WORKER_STARTED, got %v want %v", got, want)
	}
}

func TestLastHeartbeatMissingFile(t *testing.T) {
	if _, err := LastHeartbeat(filepath.Join(t.TempDir(), "does-not-exist.log")); err == nil {
		t.Error("expected an error for a missing log file")
	}
}

func TestHungTimeoutClamps(t *testing.T) {
	if got := HungTimeout(5 * time.Minute); got != 30*time.Minute {
		t.Errorf("expected the floor of 30m for a short estimate, got %s", got)
	}
	if got := HungTimeout(10 * time.Hour); got != 4*time.Hour {
		t.Errorf("expected the ceiling of 4h for a long estimate, got %s", got)
	}
	if got := HungTimeout(time.Hour); got != 2*time.Hour {
		t.Errorf("expected 2x the estimate within bounds, got %s", got)
	}
}

func TestIsHung(t *testing.T) {
	now := time.Now()
	if IsHung(time.Time{}, time.Hour, now) {
		t.Error("a task with no heartbeat yet should not be reported as hung")
	}
	if IsHung(now.Add(-30*time.Minute), time.Hour, now) {
		t.Error("a heartbeat within the timeout should not be hung")
	}
	if !IsHung(now.Add(-2*time.Hour), time.Hour, now) {
		t.Error("a heartbeat past the timeout should be hung")
	}
}
