package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "healthtimer/pkg/logx"
)

func openForTest(t *testing.T, driver string) (Config, Store) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(dir, "state.json")
	case "sqlite":
		cfg.Path = filepath.Join(dir, "state.db")
	case "diskv":
		cfg.Path = filepath.Join(dir, "kv")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return cfg, st
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"memory", "file", "sqlite", "diskv"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			_, st := openForTest(t, driver)
			defer st.Close()

			if _, ok, err := st.Get(ctx, "item.a.enabled"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
			}
			if err := st.Put(ctx, "item.a.enabled", []byte("false")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, "item.a.enabled", []byte("true")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			v, ok, err := st.Get(ctx, "item.a.enabled")
			if err != nil || !ok || string(v) != "true" {
				t.Fatalf("Get = %q, %v, %v", v, ok, err)
			}
			if err := st.Delete(ctx, "item.a.enabled"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "item.a.enabled"); ok {
				t.Fatalf("key still present after Delete")
			}
			if err := st.Delete(ctx, "never.written"); err != nil {
				t.Fatalf("Delete(missing): %v", err)
			}
			if err := st.AppendAudit(ctx, AuditEntry{At: time.Now(), Action: "reminder.fired", ItemID: "a"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite", "diskv"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			cfg, st := openForTest(t, driver)

			if err := st.Put(ctx, "remindersPaused", []byte("true")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, "gone", []byte("1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Delete(ctx, "gone"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			re, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer re.Close()
			v, ok, err := re.Get(ctx, "remindersPaused")
			if err != nil || !ok || string(v) != "true" {
				t.Fatalf("after reopen Get = %q, %v, %v", v, ok, err)
			}
			if _, ok, _ := re.Get(ctx, "gone"); ok {
				t.Fatalf("deleted key resurrected after reopen")
			}
		})
	}
}

func TestFileStoreReplaysJournalWithoutSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	journal := filepath.Join(dir, "state.kv.journal.jsonl")
	lines := `{"k":"a","v":"MQ=="}` + "\n" + `{"k":"b","v":"Mg=="}` + "\n" + `{"k":"a","d":true}` + "\n" + `{"k":"torn`
	if err := os.WriteFile(journal, []byte(lines), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, ok, _ := st.Get(ctx, "a"); ok {
		t.Fatalf("a should be deleted by journal")
	}
	v, ok, _ := st.Get(ctx, "b")
	if !ok || string(v) != "2" {
		t.Fatalf("Get(b) = %q, %v", v, ok)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"memory", "file", "sqlite", "diskv"} {
		_, st := openForTest(t, driver)
		if err := st.Close(); err != nil {
			t.Fatalf("%s Close: %v", driver, err)
		}
		if err := st.Put(context.Background(), "k", []byte("v")); !errors.Is(err, ErrClosed) {
			t.Fatalf("%s Put after close err = %v, want ErrClosed", driver, err)
		}
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{Driver: "file"},
		{Driver: "sqlite"},
		{Driver: "diskv"},
		{Driver: "postgres"},
	}
	for _, cfg := range cases {
		if _, err := Open(cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v) succeeded, want error", cfg)
		}
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("unknown driver err = %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("HEALTHTIMER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HEALTHTIMER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	key := "test." + time.Now().Format("150405.000000000")
	if err := st.Put(ctx, key, []byte(`"x"`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := st.Get(ctx, key)
	if err != nil || !ok || string(v) != `"x"` {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
