package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vaultd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	if cfg.Backend != BackendLevelDB {
		t.Fatalf("unexpected backend %q", cfg.Backend)
	}
	if cfg.Market.Interest.KinkBps != 8_000 {
		t.Fatalf("default interest model not applied: %+v", cfg.Market.Interest)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload default: %v", err)
	}
	if again.ListenAddress != cfg.ListenAddress || again.AccountDeposit != cfg.AccountDeposit {
		t.Fatalf("default config did not round trip")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "vaultd.toml", `
DataDir = " ./data "
Backend = "BOLT"
ListenAddress = "127.0.0.1:9000"
PauseVault = true

[Auth]
HMACSecret = "0123456789abcdef"
Issuer = "vault-tests"

[Market]
UnderlyingSymbol = "usdc"
UnderlyingDecimals = 6
MaxLTVBps = 8000

[Scheduler]
AutoRollover = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "./data" || cfg.Backend != BackendBolt {
		t.Fatalf("normalize failed: %q %q", cfg.DataDir, cfg.Backend)
	}
	if cfg.Market.UnderlyingSymbol != "USDC" {
		t.Fatalf("symbol not upper cased: %q", cfg.Market.UnderlyingSymbol)
	}
	if cfg.Scheduler.Spec != "@every 30s" || !cfg.Scheduler.AutoRollover {
		t.Fatalf("scheduler defaults not applied: %+v", cfg.Scheduler)
	}
	if !cfg.Pauses().IsPaused("vault") || cfg.Pauses().IsPaused("lending") {
		t.Fatalf("pause set mismatch")
	}
	if cfg.KeystorePath != filepath.Join("./data", "operator.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.KeystorePath)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "vaultd.yaml", `
backend: memory
listen: ":7000"
market:
  underlying_symbol: dai
  max_ltv_bps: 7000
  interest:
    base_rate_bps: 100
    slope1_bps: 1000
    slope2_bps: 5000
    kink_bps: 9000
rate_limit:
  requests_per_second: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.ListenAddress != ":7000" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Market.Interest.KinkBps != 9_000 {
		t.Fatalf("interest override lost: %+v", cfg.Market.Interest)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Fatalf("burst should default to the rate, got %d", cfg.RateLimit.Burst)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvListen, ":6500")
	t.Setenv(EnvPauseVault, "true")
	t.Setenv(EnvJWTSecret, "secret-from-the-env")
	path := writeConfig(t, "vaultd.toml", `
DataDir = "./data"
[Market]
MaxLTVBps = 7500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":6500" || !cfg.PauseVault || cfg.Auth.HMACSecret != "secret-from-the-env" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		contents string
		want     string
	}{
		"unknown backend": {`Backend = "postgres"
DataDir = "x"
[Market]
MaxLTVBps = 7500`, "unknown backend"},
		"missing data dir": {`Backend = "leveldb"
[Market]
MaxLTVBps = 7500`, "data_dir required"},
		"ltv": {`Backend = "memory"
[Market]
MaxLTVBps = 12000`, "max_ltv_bps"},
		"short secret": {`Backend = "memory"
[Auth]
HMACSecret = "short"
[Market]
MaxLTVBps = 7500`, "hmac_secret"},
		"unknown field": {`Backend = "memory"
Bogus = 1`, "unknown field"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "vaultd.toml", tc.contents))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
