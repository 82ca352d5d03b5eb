package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	JSON(&buf, slog.LevelInfo).Info("layer done", "layer", 3)

	out := buf.String()
	for _, want := range []string{`"msg":"layer done"`, `"layer":3`, `"level":"INFO"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden too")
	if buf.Len() > 0 {
		t.Fatalf("info/debug written at warn level: %s", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("nowhere", "k", 1)
	log.With("a", 1).WithGroup("g").Info("still nowhere")
}

func TestSetup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"hi"`},
		{"text", "msg=hi"},
		{"pretty", "INF"},
		{"", "INF"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		log, err := Setup(&buf, tt.format, "info")
		if err != nil {
			t.Fatalf("Setup(%q): %v", tt.format, err)
		}
		log.Info("hi")
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("format %q: %q does not contain %q", tt.format, buf.String(), tt.want)
		}
	}
	if _, err := Setup(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Error("Setup accepted an unknown format")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug).With("model", "toy").WithGroup("run")
	log.Debug("step", "layer", 2, "took", 1500*time.Microsecond, "note", "two words")

	out := buf.String()
	for _, want := range []string{"DBG", "step", "model=toy", "run.layer=2", "run.took=1.5ms", `run.note="two words"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled at default level")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info disabled at default level")
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"simple":    false,
		"conv1.bin": false,
		"two words": true,
		`say "hi"`:  true,
		"a=b":       true,
		"":          true,
	}
	for in, want := range tests {
		if got := needsQuoting(in); got != want {
			t.Errorf("needsQuoting(%q) = %v, want %v", in, got, want)
		}
	}
}
