package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"epochvault/config"
	"epochvault/core/state"
)

func TestOpenDatabaseBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBolt, config.BackendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = backend
			cfg.DataDir = t.TempDir()
			db, err := openDatabase(cfg)
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, state.EnsureStateVersion(db, false))
			version, ok, err := state.NewManager(db).StateVersion()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, state.StateVersion, version)
		})
	}

	cfg := config.Default()
	cfg.Backend = "postgres"
	_, err := openDatabase(cfg)
	require.Error(t, err)
}

func TestLoadOperatorFromEnvPassphrase(t *testing.T) {
	t.Setenv(config.EnvKeystorePassphrase, "operator-pass")
	cfg := config.Default()
	cfg.KeystorePath = filepath.Join(t.TempDir(), "operator.keystore")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := loadOperator(cfg, logger)
	require.NoError(t, err)
	second, err := loadOperator(cfg, logger)
	require.NoError(t, err)
	require.True(t, first.SignerAddress().Equal(second.SignerAddress()))
}
