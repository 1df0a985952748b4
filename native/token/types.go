package token

import (
	"epochvault/crypto"
)

// ProgramAddress owns every associated token account address.
var ProgramAddress = crypto.ProgramID("epochvault/token")

// NativeMintAddress identifies the native currency. Account deposits and
// operating balances are paid in it.
var NativeMintAddress = crypto.ProgramID("epochvault/token/native")

// Mint describes a fungible asset.
type Mint struct {
	Address   crypto.Address
	Authority crypto.Address
	Symbol    string
	Decimals  uint8
	Supply    uint64
}

// Clone returns a copy safe to mutate.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Account holds a balance of exactly one mint on behalf of an owner. Deposit
// is the native amount locked when the account was opened and released when
// it is closed.
type Account struct {
	Address crypto.Address
	Mint    crypto.Address
	Owner   crypto.Address
	Balance uint64
	Deposit uint64
}

// Clone returns a copy safe to mutate.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
