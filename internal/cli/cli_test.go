package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "healthtimer.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const envFile = "--env-file=does-not-exist.env"

func TestConfigCheck(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "reminders:\n  active_hours_start: 8\n  active_hours_end: 18\n  timezone: UTC\n")
	out, err := execute(t, "config", "check", "-c", p, envFile)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	for _, want := range []string{": ok", "active hours: 08:00-18:00 UTC", "storage: memory", "telegram: disabled"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	bad := writeConfig(t, "reminders:\n  snooze: later\n")
	if _, err := execute(t, "config", "check", "-c", bad, envFile); err == nil {
		t.Fatal("expected validation error")
	}
	unknown := writeConfig(t, "remindrs: {}\n")
	if _, err := execute(t, "config", "check", "-c", unknown, envFile); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestConfigCheckWarnsOnEmptyWindow(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "reminders:\n  active_hours_start: 18\n  active_hours_end: 8\n")
	out, err := execute(t, "config", "check", "-c", p, envFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "warning: active hours are empty") {
		t.Fatalf("no warning:\n%s", out)
	}
}

func TestStatusAndItems(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "healthtimer.yaml")
	body := "reminders:\n  active_hours_start: 0\n  active_hours_end: 23\n  timezone: UTC\n" +
		"storage:\n  driver: file\n  path: state\nlogging:\n  file:\n    enabled: true\n    path: test.log\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "status", "-c", p, envFile)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("status printed nothing")
	}

	out, err = execute(t, "items", "-c", p, envFile)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if !strings.Contains(out, "Ankle Circles (ankle-circles): every 30 min") {
		t.Fatalf("items:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "version", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "healthtimer dev") {
		t.Fatalf("version = %q", out)
	}
}
