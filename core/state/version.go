package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion is the record layout this binary reads and writes. Bump it
// when a stored vault, ledger or lending record changes shape.
const StateVersion uint32 = 1

var stateVersionKey = []byte("state/version")

// ErrStateVersionMismatch is returned when a store was written by a binary
// with a different record layout.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

var errNoManager = errors.New("state: manager unavailable")

// SetStateVersion stamps the store. Run it only after migrating records.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return errNoManager
	}
	return m.KVPut(stateVersionKey, uint64(version))
}

// StateVersion reads the stamp. ok is false on a fresh store.
func (m *Manager) StateVersion() (version uint32, ok bool, err error) {
	if m == nil {
		return 0, false, errNoManager
	}
	var raw uint64
	if ok, err = m.KVGet(stateVersionKey, &raw); err != nil || !ok {
		return 0, false, err
	}
	if raw > math.MaxUint32 {
		return 0, false, fmt.Errorf("state: stored version %d does not fit uint32", raw)
	}
	return uint32(raw), true, nil
}

// EnsureStateVersion stamps a fresh store and rejects one written with another
// layout. allowMigrate lets vaultd start anyway so an operator can migrate
// records by hand.
func EnsureStateVersion(kv KV, allowMigrate bool) error {
	if kv == nil {
		return errors.New("state: nil store")
	}
	m := NewManager(kv)
	stored, ok, err := m.StateVersion()
	switch {
	case err != nil:
		return err
	case !ok:
		return m.SetStateVersion(StateVersion)
	case stored == StateVersion, allowMigrate:
		return nil
	}
	return fmt.Errorf("%w: store has %d, binary expects %d", ErrStateVersionMismatch, stored, StateVersion)
}
