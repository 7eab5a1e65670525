package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteProbeCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, time.Second)
	w.Start()
	defer w.Stop()

	state, beat, err := Probe(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if state != StateAlive {
		t.Errorf("state = %s, want alive", state)
	}
	if beat == nil {
		t.Fatal("expected a beat")
	}
	if beat.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", beat.PID, os.Getpid())
	}
	if beat.Uptime == "" {
		t.Error("expected non-empty uptime")
	}
}

func TestProbeStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	old := Beat{
		PID:       os.Getpid(),
		StartedAt: time.Now().Add(-2 * time.Hour),
		Timestamp: time.Now().Add(-time.Hour),
		Uptime:    "1h0m0s",
	}
	data, _ := json.Marshal(old)
	os.WriteFile(path, data, 0o644)

	state, beat, err := Probe(path, 30*time.Minute)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if state != StateStale {
		t.Errorf("state = %s, want stale", state)
	}
	if beat == nil {
		t.Fatal("expected the stale beat back")
	}
}

func TestProbeMissingFileIsDead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	state, beat, err := Probe(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if state != StateDead {
		t.Errorf("state = %s, want dead", state)
	}
	if beat != nil {
		t.Errorf("beat = %+v, want nil", beat)
	}
}

func TestStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, time.Second)
	w.Start()
	w.Stop()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("heartbeat file still present after Stop")
	}
}
