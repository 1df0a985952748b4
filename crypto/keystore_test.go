package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "admin.keystore")

	key, created, err := LoadOrCreateKeystore(path, "pass")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := LoadOrCreateKeystore(path, "pass")
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, key.SignerAddress().Equal(again.SignerAddress()))

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestPrivateKeySigner(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	var signer Signer = key
	require.True(t, signer.SignerAddress().Equal(key.PubKey().Address()))

	var empty *PrivateKey
	require.True(t, empty.SignerAddress().IsZero())
}
