package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"epochvault/native/lending"
)

// Environment overrides applied after the file is decoded.
const (
	EnvDataDir    = "EPOCHVAULT_DATA_DIR"
	EnvListen     = "EPOCHVAULT_LISTEN"
	EnvJWTSecret  = "EPOCHVAULT_JWT_SECRET"
	EnvPauseVault = "EPOCHVAULT_PAUSE_VAULT"
	EnvLogLevel   = "EPOCHVAULT_LOG_LEVEL"
	EnvOTLP       = "OTEL_EXPORTER_OTLP_ENDPOINT"

	// EnvKeystorePassphrase unlocks the operator keystore without a prompt.
	EnvKeystorePassphrase = "EPOCHVAULT_KEYSTORE_PASSPHRASE"
)

// Storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Config captures the runtime settings of the vault daemon.
type Config struct {
	DataDir        string `toml:"DataDir" yaml:"data_dir"`
	Backend        string `toml:"Backend" yaml:"backend"`
	ListenAddress  string `toml:"ListenAddress" yaml:"listen"`
	Environment    string `toml:"Environment" yaml:"environment"`
	LogLevel       string `toml:"LogLevel" yaml:"log_level"`
	LogFile        string `toml:"LogFile" yaml:"log_file"`
	KeystorePath   string `toml:"KeystorePath" yaml:"keystore"`
	AccountDeposit uint64 `toml:"AccountDeposit" yaml:"account_deposit"`
	PauseVault     bool   `toml:"PauseVault" yaml:"pause_vault"`
	PauseLending   bool   `toml:"PauseLending" yaml:"pause_lending"`

	Auth      AuthConfig      `toml:"Auth" yaml:"auth"`
	Market    MarketConfig    `toml:"Market" yaml:"market"`
	Scheduler SchedulerConfig `toml:"Scheduler" yaml:"scheduler"`
	RateLimit RateLimitConfig `toml:"RateLimit" yaml:"rate_limit"`
	Telemetry TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
}

// AuthConfig configures bearer token verification. The token subject is the
// caller's address and nothing binds it to a key, so whoever holds HMACSecret
// can act as any address, vault admins included. Keep the secret with the
// operator; never hand it to depositors.
type AuthConfig struct {
	HMACSecret string `toml:"HMACSecret" yaml:"hmac_secret"`
	Issuer     string `toml:"Issuer" yaml:"issuer"`
	Audience   string `toml:"Audience" yaml:"audience"`
}

// MarketConfig seeds the lending venue at genesis.
type MarketConfig struct {
	UnderlyingSymbol   string                 `toml:"UnderlyingSymbol" yaml:"underlying_symbol"`
	UnderlyingDecimals uint8                  `toml:"UnderlyingDecimals" yaml:"underlying_decimals"`
	MaxLTVBps          uint64                 `toml:"MaxLTVBps" yaml:"max_ltv_bps"`
	OperatorFunding    uint64                 `toml:"OperatorFunding" yaml:"operator_funding"`
	DevFaucet          bool                   `toml:"DevFaucet" yaml:"dev_faucet"`
	Interest           lending.InterestParams `toml:"Interest" yaml:"interest"`
}

// SchedulerConfig drives the epoch watcher.
type SchedulerConfig struct {
	Spec         string `toml:"Spec" yaml:"spec"`
	AutoRollover bool   `toml:"AutoRollover" yaml:"auto_rollover"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Headers  string `toml:"Headers" yaml:"headers"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	cfg := &Config{
		DataDir:        "./vault-data",
		Backend:        BackendLevelDB,
		ListenAddress:  ":8090",
		Environment:    "local",
		LogLevel:       "info",
		AccountDeposit: 2_039_280,
		Market: MarketConfig{
			UnderlyingSymbol:   "USDC",
			UnderlyingDecimals: 6,
			MaxLTVBps:          7_500,
			OperatorFunding:    1_000_000_000,
			Interest:           lending.DefaultInterestParams(),
		},
		Scheduler: SchedulerConfig{Spec: "@every 30s"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
	}
	cfg.normalize()
	return cfg
}

// Load reads the configuration at path, creating a default TOML file when
// none exists. Files ending in .yaml or .yml are decoded as YAML.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		cfg.applyEnv()
		cfg.normalize()
		return cfg, cfg.validate()
	}

	cfg := &Config{}
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (cfg *Config) applyEnv() {
	cfg.DataDir = stringFromEnv(EnvDataDir, cfg.DataDir)
	cfg.ListenAddress = stringFromEnv(EnvListen, cfg.ListenAddress)
	cfg.Auth.HMACSecret = stringFromEnv(EnvJWTSecret, cfg.Auth.HMACSecret)
	cfg.PauseVault = boolFromEnv(EnvPauseVault, cfg.PauseVault)
	cfg.LogLevel = stringFromEnv(EnvLogLevel, cfg.LogLevel)
	cfg.Telemetry.Endpoint = stringFromEnv(EnvOTLP, cfg.Telemetry.Endpoint)
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.KeystorePath = strings.TrimSpace(cfg.KeystorePath)
	if cfg.KeystorePath == "" && cfg.DataDir != "" {
		cfg.KeystorePath = filepath.Join(cfg.DataDir, "operator.keystore")
	}
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Market.UnderlyingSymbol = strings.ToUpper(strings.TrimSpace(cfg.Market.UnderlyingSymbol))
	if cfg.Market.UnderlyingSymbol == "" {
		cfg.Market.UnderlyingSymbol = "USDC"
	}
	if cfg.Market.Interest == (lending.InterestParams{}) {
		cfg.Market.Interest = lending.DefaultInterestParams()
	}
	cfg.Scheduler.Spec = strings.TrimSpace(cfg.Scheduler.Spec)
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "@every 30s"
	}
	if cfg.RateLimit.Burst <= 0 && cfg.RateLimit.RequestsPerSecond > 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Backend {
	case BackendLevelDB, BackendBolt:
		if cfg.DataDir == "" {
			return fmt.Errorf("data_dir required for the %s backend", cfg.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.Market.MaxLTVBps == 0 || cfg.Market.MaxLTVBps > 10_000 {
		return fmt.Errorf("market: max_ltv_bps must be within (0, 10000]")
	}
	if cfg.Market.Interest.KinkBps == 0 || cfg.Market.Interest.KinkBps > 10_000 {
		return fmt.Errorf("market: interest kink_bps must be within (0, 10000]")
	}
	if cfg.Market.Interest.ReserveFactorBps > 10_000 {
		return fmt.Errorf("market: interest reserve_factor_bps exceeds 10000")
	}
	if cfg.Market.UnderlyingDecimals > 18 {
		return fmt.Errorf("market: underlying_decimals exceeds 18")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit: requests_per_second must not be negative")
	}
	if cfg.Auth.HMACSecret != "" && len(cfg.Auth.HMACSecret) < 16 {
		return fmt.Errorf("auth: hmac_secret must be at least 16 bytes")
	}
	return nil
}

// Pauses returns the module pause switches as a pause view.
func (cfg *Config) Pauses() PauseSet {
	return PauseSet{"vault": cfg.PauseVault, "lending": cfg.PauseLending}
}

// PauseSet reports paused modules by name.
type PauseSet map[string]bool

// IsPaused implements the native pause view.
func (p PauseSet) IsPaused(module string) bool { return p[module] }

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if isYAML(path) {
		return yaml.NewEncoder(f).Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		log.Printf("invalid boolean value for %s: %q, using default %v", key, trimmed, fallback)
		return fallback
	}
	return parsed
}
