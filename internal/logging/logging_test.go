package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "").Info("hello", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "hello" || line["k"] != "v" {
		t.Errorf("unexpected record: %v", line)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")
	l.Info("dropped")
	l.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("level filter: got %q", buf.String())
	}
}

func TestL_FallsBackToDefault(t *testing.T) {
	if L(context.Background()) != slog.Default() {
		t.Error("L without a stored logger should return slog.Default()")
	}
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if L(WithLogger(context.Background(), custom)) != custom {
		t.Error("L should return the stored logger")
	}
}
