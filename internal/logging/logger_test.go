package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "WARN")
	l.Info("dropped")
	l.Warn("kept", "ride_id", "r1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "kept" || rec["ride_id"] != "r1" || rec["source"] == nil {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewLogger(Options{Level: "debug", File: path})
	l.Debug("to file")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Fatalf("log file missing record: %s", data)
	}
}
