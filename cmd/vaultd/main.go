package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"epochvault/cmd/internal/passphrase"
	"epochvault/config"
	"epochvault/core"
	"epochvault/core/epoch"
	"epochvault/core/state"
	"epochvault/crypto"
	"epochvault/native/lending"
	"epochvault/observability/logging"
	telemetry "epochvault/observability/otel"
	"epochvault/services/vaultd/scheduler"
	"epochvault/services/vaultd/server"
	"epochvault/storage"
)

func main() {
	cfgPath := flag.String("config", "./vaultd.toml", "path to the vaultd config (TOML or YAML)")
	allowMigrate := flag.Bool("allow-migrate", false, "start even when the on-disk state version differs")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := run(cfg, *allowMigrate); err != nil {
		log.Fatalf("vaultd: %v", err)
	}
}

func run(cfg *config.Config, allowMigrate bool) error {
	logger, logCloser := logging.SetupWithFile("vaultd", cfg.Environment, logging.ParseLevel(cfg.LogLevel), logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "vaultd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := state.EnsureStateVersion(db, allowMigrate); err != nil {
		return err
	}

	operator, err := loadOperator(cfg, logger)
	if err != nil {
		return err
	}

	exec, err := core.NewExecutor(db, core.ExecutorConfig{
		AccountDeposit: cfg.AccountDeposit,
		Clock:          epoch.SystemClock{},
		Pauses:         cfg.Pauses(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	operatorAddr := operator.SignerAddress()
	genesis, err := exec.InitGenesis(ctx, core.Genesis{
		Faucet:             operatorAddr,
		Operator:           operatorAddr,
		OperatorFunding:    cfg.Market.OperatorFunding,
		UnderlyingSymbol:   cfg.Market.UnderlyingSymbol,
		UnderlyingDecimals: cfg.Market.UnderlyingDecimals,
		Risk:               lending.RiskParameters{MaxLTVBps: cfg.Market.MaxLTVBps},
		Interest:           cfg.Market.Interest,
	})
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	auth := server.NewAuthenticator(server.AuthOptions{
		Secret:   cfg.Auth.HMACSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   30 * time.Second,
	})
	if auth == nil {
		logger.Warn("no auth secret configured; write endpoints are disabled")
	} else {
		logger.Info("bearer auth enabled", logging.MaskField("hmac_secret", cfg.Auth.HMACSecret), "issuer", cfg.Auth.Issuer)
	}
	if cfg.Market.DevFaucet {
		logger.Warn("development faucet enabled")
	}

	api := server.New(server.Config{
		Backend:   exec,
		Auth:      auth,
		Limiter:   server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Genesis:   genesis,
		Faucet:    operatorAddr,
		Operator:  operatorAddr,
		DevFaucet: cfg.Market.DevFaucet,
		Logger:    logger,
	})

	watcher, err := scheduler.New(exec, scheduler.Options{
		Spec:         cfg.Scheduler.Spec,
		AutoRollover: cfg.Scheduler.AutoRollover,
		Operator:     operator,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(api.Handler(), "vaultd"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			"addr", cfg.ListenAddress,
			"backend", cfg.Backend,
			"operator", operatorAddr.String(),
			"reserve", genesis.Reserve.String())
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "vault.bolt"), nil)
	case config.BackendLevelDB:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func loadOperator(cfg *config.Config, logger *slog.Logger) (*crypto.PrivateKey, error) {
	if cfg.KeystorePath == "" {
		return nil, errors.New("keystore path required")
	}
	pass, err := passphrase.NewSource(config.EnvKeystorePassphrase, "operator keystore").Get()
	if err != nil {
		return nil, err
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.KeystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("operator keystore: %w", err)
	}
	if created {
		logger.Info("generated operator key", "keystore", cfg.KeystorePath, "address", key.SignerAddress().String())
	}
	return key, nil
}
