package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hb.json")

	w := NewWriter(path, "127.0.0.1:8787")
	w.Start()
	defer w.Stop()

	status, hb, err := Check(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusAlive {
		t.Errorf("status = %s, want alive", status)
	}
	if hb.PID != os.Getpid() || hb.Addr != "127.0.0.1:8787" {
		t.Errorf("heartbeat = %+v", hb)
	}
}

func TestStaleDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hb.json")
	old := Heartbeat{
		PID:       os.Getpid(),
		StartedAt: time.Now().Add(-2 * time.Hour),
		Timestamp: time.Now().Add(-1 * time.Hour),
	}
	data, _ := json.Marshal(old)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	status, hb, err := Check(path, 30*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusStale {
		t.Errorf("status = %s, want stale", status)
	}
	if hb.Uptime() != time.Hour {
		t.Errorf("uptime = %s, want 1h", hb.Uptime())
	}
}

func TestMissingFileIsDead(t *testing.T) {
	status, hb, err := Check(filepath.Join(t.TempDir(), "none.json"), time.Minute)
	if err != nil || status != StatusDead || hb != nil {
		t.Errorf("Check = %s, %v, %v", status, hb, err)
	}
}

func TestStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hb.json")
	w := NewWriter(path, "x")
	w.Start()
	w.Start()
	w.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("heartbeat file still present: %v", err)
	}
	w.Stop()
}
