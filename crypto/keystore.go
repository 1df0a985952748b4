package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

var (
	errNilKey       = errors.New("crypto: nil private key")
	errEmptyKSPath  = errors.New("crypto: empty keystore path")
	errEmptyKSWrite = errors.New("crypto: failed to create keystore file")
)

// SignerAddress lets a key holder act as a signer. The key's account address
// is the identity engines check ownership against.
func (k *PrivateKey) SignerAddress() Address {
	if k == nil || k.PrivateKey == nil {
		return Address{}
	}
	return k.PubKey().Address()
}

// SaveToKeystore writes key to a v3 keystore file at path, creating the
// parent directory with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errNilKey
	}
	if path == "" {
		return errEmptyKSPath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.LightScryptN, keystore.LightScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errEmptyKSWrite
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts the keystore file at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyKSPath
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", filepath.Base(path), err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// LoadOrCreateKeystore loads the key at path, generating and saving a new
// one when the file does not exist. created reports which happened.
func LoadOrCreateKeystore(path, passphrase string) (key *PrivateKey, created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		key, err = LoadFromKeystore(path, passphrase)
		return key, false, err
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, false, statErr
	}
	key, err = GeneratePrivateKey()
	if err != nil {
		return nil, false, err
	}
	if err := SaveToKeystore(path, key, passphrase); err != nil {
		return nil, false, err
	}
	return key, true, nil
}
