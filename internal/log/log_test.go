package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "rows", 3)
	Error("shown error", errors.New("boom"), "path", "/tmp/a b.csv")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output contains filtered lines: %s", out)
	}
	if !strings.Contains(out, "[WARN] shown warn rows=3") {
		t.Errorf("missing warn line: %s", out)
	}
	if !strings.Contains(out, `err=boom path="/tmp/a b.csv"`) {
		t.Errorf("missing error kvs: %s", out)
	}
}
