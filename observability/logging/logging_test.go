package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesCoreFieldsAndMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "vaultd", "test", slog.LevelInfo)
	logger.Debug("dropped")
	logger.Info("started", "hmac_secret", "s3cret", "vault", "weekly", "auth_token", "", MaskField("owner", "ev1abc"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
	require.Equal(t, "started", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "vaultd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["hmac_secret"])
	require.Equal(t, "", line["auth_token"])
	require.Equal(t, "weekly", line["vault"])
	require.Equal(t, RedactedValue, line["owner"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskFieldAllowlist(t *testing.T) {
	require.Equal(t, "phase_violation", MaskField("reason", "phase_violation").Value.String())
	require.Equal(t, RedactedValue, MaskField("source", "ev1abc").Value.String())
	require.Equal(t, "  ", MaskValue("  "))
	require.True(t, isSecretKey("Keystore_Passphrase"))
	require.False(t, isSecretKey("kind"))
}
