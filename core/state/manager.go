package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"epochvault/storage"
)

// KV is the storage surface the manager needs. Both storage.Database and
// storage.Overlay satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// Manager reads and writes RLP encoded records. Record keys are hashed so the
// layout does not leak record types; index keys stay raw so they can be
// scanned by prefix.
type Manager struct {
	kv KV
}

// NewManager creates a state manager operating on the provided store.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, id []byte) []byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id)
	return buf
}

// KVPut stores the RLP encoding of value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.kv.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.kv.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the record under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.kv.Delete(kvKey(key))
}

func (m *Manager) indexPut(prefix, id []byte) error {
	return m.kv.Put(prefixedKey(prefix, id), []byte{1})
}

func (m *Manager) indexScan(prefix []byte) ([][]byte, error) {
	var ids [][]byte
	err := m.kv.Iterate(prefix, func(key, _ []byte) error {
		ids = append(ids, append([]byte(nil), key[len(prefix):]...))
		return nil
	})
	return ids, err
}
