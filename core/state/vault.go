package state

import (
	"fmt"
	"math"

	"epochvault/core/epoch"
	"epochvault/crypto"
	"epochvault/native/vault"
)

// storedVault mirrors vault.Vault with unsigned timestamps, the only integer
// form RLP supports.
type storedVault struct {
	Address        crypto.Address
	Name           [vault.NameLength]byte
	Admin          crypto.Address
	Authority      crypto.Address
	UnderlyingMint crypto.Address
	ClaimMint      crypto.Address
	PoolAccount    crypto.Address
	Bumps          vault.Bumps
	Schedule       storedSchedule
	Handles        vault.Handles
	Epoch          uint64
	CreatedAt      uint64
}

type storedSchedule struct {
	Start           uint64
	EndDeposits     uint64
	StartAuction    uint64
	EndAuction      uint64
	StartSettlement uint64
	EndEpoch        uint64
	Cadence         uint64
}

func vaultKey(addr crypto.Address) []byte {
	return prefixedKey(vaultPrefix, addr.Bytes())
}

func toUnsigned(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("state: negative timestamp %d", v)
	}
	return uint64(v), nil
}

func toSigned(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("state: timestamp %d overflows int64", v)
	}
	return int64(v), nil
}

func newStoredSchedule(s epoch.Schedule) (storedSchedule, error) {
	var out storedSchedule
	fields := []struct {
		dst *uint64
		src int64
	}{
		{&out.Start, s.Start},
		{&out.EndDeposits, s.EndDeposits},
		{&out.StartAuction, s.StartAuction},
		{&out.EndAuction, s.EndAuction},
		{&out.StartSettlement, s.StartSettlement},
		{&out.EndEpoch, s.EndEpoch},
	}
	for _, f := range fields {
		v, err := toUnsigned(f.src)
		if err != nil {
			return out, err
		}
		*f.dst = v
	}
	out.Cadence = s.Cadence
	return out, nil
}

func (s storedSchedule) schedule() (epoch.Schedule, error) {
	out := epoch.Schedule{Cadence: s.Cadence}
	fields := []struct {
		dst *int64
		src uint64
	}{
		{&out.Start, s.Start},
		{&out.EndDeposits, s.EndDeposits},
		{&out.StartAuction, s.StartAuction},
		{&out.EndAuction, s.EndAuction},
		{&out.StartSettlement, s.StartSettlement},
		{&out.EndEpoch, s.EndEpoch},
	}
	for _, f := range fields {
		v, err := toSigned(f.src)
		if err != nil {
			return out, err
		}
		*f.dst = v
	}
	return out, nil
}

// GetVault loads the vault record at addr.
func (m *Manager) GetVault(addr crypto.Address) (*vault.Vault, bool, error) {
	var stored storedVault
	ok, err := m.KVGet(vaultKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	schedule, err := stored.Schedule.schedule()
	if err != nil {
		return nil, false, err
	}
	createdAt, err := toSigned(stored.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	return &vault.Vault{
		Address:        stored.Address,
		Name:           vault.Name(stored.Name),
		Admin:          stored.Admin,
		Authority:      stored.Authority,
		UnderlyingMint: stored.UnderlyingMint,
		ClaimMint:      stored.ClaimMint,
		PoolAccount:    stored.PoolAccount,
		Bumps:          stored.Bumps,
		Schedule:       schedule,
		Handles:        stored.Handles,
		Epoch:          stored.Epoch,
		CreatedAt:      createdAt,
	}, true, nil
}

// PutVault stores a vault record and indexes it for listing.
func (m *Manager) PutVault(v *vault.Vault) error {
	schedule, err := newStoredSchedule(v.Schedule)
	if err != nil {
		return err
	}
	createdAt, err := toUnsigned(v.CreatedAt)
	if err != nil {
		return err
	}
	stored := storedVault{
		Address:        v.Address,
		Name:           v.Name,
		Admin:          v.Admin,
		Authority:      v.Authority,
		UnderlyingMint: v.UnderlyingMint,
		ClaimMint:      v.ClaimMint,
		PoolAccount:    v.PoolAccount,
		Bumps:          v.Bumps,
		Schedule:       schedule,
		Handles:        v.Handles,
		Epoch:          v.Epoch,
		CreatedAt:      createdAt,
	}
	if err := m.KVPut(vaultKey(v.Address), stored); err != nil {
		return err
	}
	return m.indexPut(vaultIndexPrefix, v.Address.Bytes())
}

// ListVaults returns every vault record in address order.
func (m *Manager) ListVaults() ([]*vault.Vault, error) {
	ids, err := m.indexScan(vaultIndexPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*vault.Vault, 0, len(ids))
	for _, id := range ids {
		if len(id) != crypto.AddressLength {
			continue
		}
		v, ok, err := m.GetVault(crypto.NewAddress(crypto.ProgramPrefix, id))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}
