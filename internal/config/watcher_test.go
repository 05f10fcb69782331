package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "halcyon.yaml")
	writeConfig(t, path, "server:\n  listen_addr: \":9090\"\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "halcyon.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	changed := make(chan ConfigDiff, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		select {
		case changed <- Diff(old, new):
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure the mtime actually moves; some filesystems have coarse stamps.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: debug\n")
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case d := <-changed:
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("diff = %+v, want log level change to debug", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change never observed")
	}

	if got := w.Current().Server.LogLevel; got != LogDebug {
		t.Errorf("current log_level = %q, want debug", got)
	}
}

func TestWatcher_KeepsOldConfigOnBadReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "halcyon.yaml")
	writeConfig(t, path, "server:\n  listen_addr: \":9090\"\n")

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("onChange fired for an invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: shouting\n")
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.ListenAddr; got != ":9090" {
		t.Errorf("current listen_addr = %q, old config lost", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()

	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
