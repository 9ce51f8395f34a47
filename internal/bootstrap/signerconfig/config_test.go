package signerconfig

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ephsign.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
backend: file
codec: bip39
ledger: base58
file:
  dir: /var/lib/ephsign
kms:
  region: eu-west-1
  timeout: 3s
rateLimit:
  rps: 2.5
  burst: 4
  backends:
    KMS:
      rps: 10
      burst: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend != BackendFile || cfg.Codec != "bip39" || cfg.Ledger != "base58" {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.File.Dir != "/var/lib/ephsign" {
		t.Fatalf("expected file dir from yaml, got %q", cfg.File.Dir)
	}
	if cfg.File.PassphraseEnv != "EPHSIGN_FILE_PASSPHRASE" {
		t.Fatalf("expected default passphrase env, got %q", cfg.File.PassphraseEnv)
	}
	if cfg.KMS.Region != "eu-west-1" || cfg.KMS.Timeout != 3*time.Second {
		t.Fatalf("unexpected kms fields: %+v", cfg.KMS)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 4 || cfg.RateLimit.IdleTTL != 10*time.Minute {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if got := cfg.RateLimit.Backends["kms"]; got.RPS != 10 || got.Burst != 20 {
		t.Fatalf("unexpected kms budget: %+v", cfg.RateLimit.Backends)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "backend: memory\ncodec: bip39\n")
	t.Setenv("EPHSIGN_BACKEND", "kms")
	t.Setenv("EPHSIGN_KMS_KEY_ID", "alias/treasury")
	t.Setenv("EPHSIGN_KMS_TIMEOUT", "750ms")
	t.Setenv("EPHSIGN_RATE_LIMIT_BURST", "9")
	t.Setenv("EPHSIGN_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend != BackendKMS || cfg.KMS.KeyID != "alias/treasury" {
		t.Fatalf("env did not override backend: %+v", cfg)
	}
	if cfg.KMS.Timeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms timeout, got %s", cfg.KMS.Timeout)
	}
	if cfg.RateLimit.Burst != 9 {
		t.Fatalf("expected burst 9, got %d", cfg.RateLimit.Burst)
	}
	if cfg.Codec != "bip39" {
		t.Fatalf("unset env must keep file value, got %q", cfg.Codec)
	}
	level, err := cfg.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v %v", level, err)
	}
}

func TestLoadExplicitPathErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing explicit config must fail")
	}
	path := writeConfig(t, "backend: [unterminated\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend": func(c *Config) { c.Backend = "vault" },
		"file no dir":     func(c *Config) { c.Backend = BackendFile },
		"kms no key":      func(c *Config) { c.Backend = BackendKMS },
		"bad codec":       func(c *Config) { c.Codec = "electrum" },
		"bad ledger":      func(c *Config) { c.Ledger = "ethereum" },
		"bad level":       func(c *Config) { c.LogLevel = "loud" },
		"negative rps":    func(c *Config) { c.RateLimit.RPS = -1 },
		"negative budget": func(c *Config) {
			c.RateLimit.Backends = map[string]BudgetConfig{"kms": {Burst: -1}}
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	cfg := Default()
	cfg.Backend = " MacOS "
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Backend != BackendMacOS {
		t.Fatalf("backend must be normalized, got %q", cfg.Backend)
	}
}
