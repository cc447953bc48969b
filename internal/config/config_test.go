package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsCarryTunedConstants(t *testing.T) {
	cfg := Default()
	if cfg.Search.Threshold != 0.35 {
		t.Errorf("threshold = %v, want 0.35", cfg.Search.Threshold)
	}
	if cfg.Search.LowRelevance != 0.15 {
		t.Errorf("low relevance = %v, want 0.15", cfg.Search.LowRelevance)
	}
	if cfg.Search.DedupGrace != 30*time.Second {
		t.Errorf("dedup grace = %v, want 30s", cfg.Search.DedupGrace)
	}
	if cfg.Spatial.ClusterThreshold != 0.75 {
		t.Errorf("cluster threshold = %v, want 0.75", cfg.Spatial.ClusterThreshold)
	}
	if cfg.HotPath.DecayFactor != 0.95 {
		t.Errorf("decay factor = %v, want 0.95", cfg.HotPath.DecayFactor)
	}
	if err := cfg.ValidateTuning(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.Threshold != 0.35 {
		t.Error("missing file did not fall back to defaults")
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("search:\n  threshold: 0.5\n  max_results: 25\ntenant: team-a\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.Threshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Search.Threshold)
	}
	if cfg.Search.MaxResults != 25 {
		t.Errorf("max results = %d, want 25", cfg.Search.MaxResults)
	}
	if cfg.Tenant != "team-a" {
		t.Errorf("tenant = %q, want team-a", cfg.Tenant)
	}
	// Untouched keys keep their defaults.
	if cfg.Search.DedupGrace != 30*time.Second {
		t.Error("partial YAML clobbered unrelated defaults")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPECMEM_DB_DSN", "postgres://env-host/db")
	t.Setenv("SPECMEM_TENANT", "env-tenant")
	t.Setenv("SPECMEM_EMBEDDING_DIMS", "1024")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.DSN != "postgres://env-host/db" {
		t.Error("DSN env override ignored")
	}
	if cfg.Tenant != "env-tenant" {
		t.Error("tenant env override ignored")
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Error("dimensions env override ignored")
	}
}

func TestValidateTuningRejectsDegenerateValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Search.Threshold = 0 }},
		{"inverted floors", func(c *Config) { c.Search.LowRelevance = 0.9 }},
		{"broken weights", func(c *Config) { c.Search.VectorWeight = 0.9 }},
		{"decay above one", func(c *Config) { c.HotPath.DecayFactor = 1.5 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.ValidateTuning(); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}
