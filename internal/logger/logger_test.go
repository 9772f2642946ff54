package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")

	Debug("debug message", "block", 42)
	Info("info message", "window", 7)

	out := buf.String()
	if !strings.Contains(out, "debug message") {
		t.Errorf("missing debug message in output: %q", out)
	}
	if !strings.Contains(out, "block=42") {
		t.Errorf("missing attr in output: %q", out)
	}
	if !strings.Contains(out, "window=7") {
		t.Errorf("missing attr in output: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("should not appear")
	Info("should not appear either")
	Warn("warning shown")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("suppressed levels leaked: %q", out)
	}
	if !strings.Contains(out, "warning shown") {
		t.Errorf("warn level missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer SetFormat("text")

	Info("merge started", "ops", 128)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "merge started" {
		t.Errorf("msg = %v, want %q", record["msg"], "merge started")
	}
	if record["ops"] != float64(128) {
		t.Errorf("ops = %v, want 128", record["ops"])
	}
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("LOUD")
	Info("still info")

	if !strings.Contains(buf.String(), "still info") {
		t.Errorf("level changed unexpectedly: %q", buf.String())
	}
}
