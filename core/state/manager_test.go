package state

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"epochvault/core/epoch"
	"epochvault/crypto"
	"epochvault/native/lending"
	"epochvault/native/token"
	"epochvault/native/vault"
	"epochvault/storage"
)

func testAddress(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func TestKVMissingKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	var out uint64
	ok, err := mgr.KVGet([]byte("absent"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVPut([]byte("present"), uint64(7)))
	ok, err = mgr.KVGet([]byte("present"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), out)

	require.NoError(t, mgr.KVDelete([]byte("present")))
	ok, err = mgr.KVGet([]byte("present"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.KVGet(nil, &out)
	require.Error(t, err)
}

func TestVaultRecordPersistence(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	name, err := vault.ParseName("weekly")
	require.NoError(t, err)
	record := &vault.Vault{
		Address:        crypto.NewAddress(crypto.ProgramPrefix, bytes.Repeat([]byte{0x10}, crypto.AddressLength)),
		Name:           name,
		Admin:          testAddress(1),
		Authority:      testAddress(2),
		UnderlyingMint: testAddress(3),
		ClaimMint:      testAddress(4),
		PoolAccount:    testAddress(5),
		Bumps:          vault.Bumps{Vault: 255, Authority: 254, LoanAccount: 250},
		Schedule:       epoch.Schedule{Start: 100, EndDeposits: 200, StartAuction: 210, EndAuction: 215, StartSettlement: 300, EndEpoch: 400, Cadence: 350},
		Handles:        vault.Handles{Market: testAddress(6), Obligation: testAddress(7)},
		Epoch:          3,
		CreatedAt:      50,
	}
	require.NoError(t, mgr.PutVault(record))

	loaded, ok, err := mgr.GetVault(record.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "weekly", loaded.Name.String())
	require.Equal(t, record.Schedule, loaded.Schedule)
	require.Equal(t, record.Bumps, loaded.Bumps)
	require.True(t, loaded.Handles.Obligation.Equal(record.Handles.Obligation))
	require.True(t, loaded.Handles.LoanAccount.IsZero())
	require.Equal(t, uint64(3), loaded.Epoch)
	require.Equal(t, int64(50), loaded.CreatedAt)

	all, err := mgr.ListVaults()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Address.Equal(record.Address))

	record.Schedule.Start = -1
	require.Error(t, mgr.PutVault(record))
}

func TestTokenAndLendingRecords(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	account := &token.Account{Address: testAddress(1), Mint: testAddress(2), Owner: testAddress(3), Balance: 42, Deposit: 7}
	require.NoError(t, mgr.PutTokenAccount(account))
	loaded, ok, err := mgr.GetTokenAccount(account.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), loaded.Balance)
	require.True(t, loaded.Owner.Equal(account.Owner))
	require.NoError(t, mgr.DeleteTokenAccount(account.Address))
	_, ok, err = mgr.GetTokenAccount(account.Address)
	require.NoError(t, err)
	require.False(t, ok)

	reserve := &lending.Reserve{
		Address:     testAddress(9),
		BorrowIndex: new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil),
		LastRefresh: 100,
		Interest:    lending.DefaultInterestParams(),
	}
	require.NoError(t, mgr.PutReserve(reserve))
	got, ok, err := mgr.GetReserve(reserve.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, got.BorrowIndex.Cmp(reserve.BorrowIndex))
	require.NotNil(t, got.ProtocolFees)
	require.Equal(t, reserve.Interest, got.Interest)
}

func TestOverlayIsolation(t *testing.T) {
	base := storage.NewMemDB()
	overlay := storage.NewOverlay(base)
	mgr := NewManager(overlay)
	require.NoError(t, mgr.PutMint(&token.Mint{Address: testAddress(1), Authority: testAddress(2), Symbol: "USD", Decimals: 6}))

	_, ok, err := NewManager(base).GetMint(testAddress(1))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, overlay.Commit())
	mint, ok, err := NewManager(base).GetMint(testAddress(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "USD", mint.Symbol)
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, EnsureStateVersion(db, false))
	version, ok, err := NewManager(db).StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, NewManager(db).SetStateVersion(StateVersion+1))
	require.ErrorIs(t, EnsureStateVersion(db, false), ErrStateVersionMismatch)
	require.NoError(t, EnsureStateVersion(db, true))
}
