package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger IsZero = false, want true")
	}
	l.Info("dropped", String("k", "v"))
	if l.With(Int("n", 1)).IsZero() {
		t.Fatalf("derived logger still reports zero")
	}
}

func TestNewJSONWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("comp", "test"))
	l.Info("hello", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected log line: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error must not be written")
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing")
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewJSON(&buf, "warn")
	l.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if l.Enabled(LevelInfo) {
		t.Fatalf("Enabled(info) = true at warn level")
	}
	l.Error("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("error line missing: %q", buf.String())
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{"": true, "info": true, "WARNING": true, "trace": true, "verbose": false}
	for in, want := range cases {
		if got := ValidLevel(in); got != want {
			t.Fatalf("ValidLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()

	got := formatTelegramJSON([]byte(`{"level":"warn","message":"disk slow","time":"x","b":"2","a":1}`))
	want := "[WARN] disk slow\n- a=1\n- b=2"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON line = %q", got)
	}
}
