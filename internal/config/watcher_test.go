package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Setenv("SPECMEM_TENANT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "tenant: alpha\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "tenant: beta\n")

	select {
	case cfg := <-reloaded:
		if cfg.Tenant != "beta" {
			t.Errorf("reloaded tenant = %q, want beta", cfg.Tenant)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after config write")
	}
}

func TestWatcherRejectsDegenerateReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "tenant: alpha\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond

	reloaded := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Weights not summing to 1 must be rejected; no handler fires.
	writeConfigFile(t, path, "search:\n  vector_weight: 0.9\n  text_weight: 0.9\n")

	select {
	case cfg := <-reloaded:
		t.Errorf("degenerate config reached handlers: %+v", cfg.Search)
	case <-time.After(500 * time.Millisecond):
	}
}
