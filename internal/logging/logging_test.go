package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "json", slog.LevelDebug)
	ctx := NewContext(context.Background(), l)
	FromContext(ctx).Debug("hello", "mission", "m1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["mission"] != "m1" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger without context value")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetops.log")
	l, closer, err := Open(Config{Level: "info", File: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Info("written")
	l.Debug("filtered")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "written") || strings.Contains(string(data), "filtered") {
		t.Fatalf("unexpected log contents: %q", data)
	}
}
