package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Jobs.Store.Driver != "memory" || cfg.Jobs.Queue.Driver != "memory" {
		t.Fatalf("unexpected job drivers %q/%q", cfg.Jobs.Store.Driver, cfg.Jobs.Queue.Driver)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("unexpected job tuning %d/%d", cfg.Jobs.Workers, cfg.Jobs.MaxRetries)
	}
	if cfg.Archive.Driver != "file" {
		t.Fatalf("unexpected archive driver %q", cfg.Archive.Driver)
	}
	wantData := filepath.Join(filepath.Dir(path), "data")
	if cfg.Runtime.DataDir != wantData {
		t.Fatalf("data dir = %q, want %q", cfg.Runtime.DataDir, wantData)
	}
	if cfg.Archive.Dir != filepath.Join(wantData, "archive") {
		t.Fatalf("archive dir = %q", cfg.Archive.Dir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"ledger": {"enabled": true, "chain_config": "chains.yaml"},
		"logging": {"audit": {"enabled": true, "path": "logs/audit.log"}}
	}`)
	base := filepath.Dir(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Ledger.ChainConfig != filepath.Join(base, "chains.yaml") {
		t.Fatalf("chain config = %q", cfg.Ledger.ChainConfig)
	}
	if cfg.Logging.Audit.Path != filepath.Join(base, "logs/audit.log") {
		t.Fatalf("audit path = %q", cfg.Logging.Audit.Path)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `{
		"proof": {"proof_cache_ttl": "10m", "verification_cache_ttl": "90s", "flush_linger": "250ms"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if got := cfg.ProofCacheTTLDuration(); got != 10*time.Minute {
		t.Fatalf("proof cache ttl = %v", got)
	}
	if got := cfg.VerificationCacheTTLDuration(); got != 90*time.Second {
		t.Fatalf("verification cache ttl = %v", got)
	}
	if got := cfg.FlushLingerDuration(); got != 250*time.Millisecond {
		t.Fatalf("flush linger = %v", got)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}

	path := writeConfig(t, `{"proof": {"proof_cache_ttl": "soon"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}

	path = writeConfig(t, `{"proof": {"trust_threshold": 1.5}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out of range trust threshold")
	}

	path = writeConfig(t, `{"auth": {"mode": "ldap"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown auth mode")
	}

	path = writeConfig(t, `{"auth": {"mode": "token"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for token mode without tokens")
	}
}
