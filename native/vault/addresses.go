package vault

import (
	"epochvault/crypto"
	"epochvault/native/lending"
)

const (
	seedAuthority   = "vault-authority"
	seedClaimMint   = "claim-mint"
	seedPoolAccount = "vault-pool"
)

// Addresses are every address derived for a vault name.
type Addresses struct {
	Vault       crypto.Address
	Authority   crypto.Address
	ClaimMint   crypto.Address
	PoolAccount crypto.Address
}

// FindVaultAddress derives the record address from the name alone.
func FindVaultAddress(name Name) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(ProgramAddress, name.Bytes())
}

// DeriveBumps computes every canonical bump a CreateVault call needs,
// including the venue position accounts owned by the vault authority.
func DeriveBumps(name Name, market, reserve crypto.Address) (Bumps, Addresses, error) {
	var bumps Bumps
	var addrs Addresses
	var err error
	if addrs.Vault, bumps.Vault, err = FindVaultAddress(name); err != nil {
		return bumps, addrs, err
	}
	if addrs.Authority, bumps.Authority, err = crypto.FindDerivedAddress(ProgramAddress, []byte(seedAuthority), name.Bytes()); err != nil {
		return bumps, addrs, err
	}
	if addrs.ClaimMint, bumps.ClaimMint, err = crypto.FindDerivedAddress(ProgramAddress, []byte(seedClaimMint), name.Bytes()); err != nil {
		return bumps, addrs, err
	}
	if addrs.PoolAccount, bumps.PoolAccount, err = crypto.FindDerivedAddress(ProgramAddress, []byte(seedPoolAccount), name.Bytes()); err != nil {
		return bumps, addrs, err
	}
	obligation, obligationBump, err := lending.FindObligation(market, addrs.Authority)
	if err != nil {
		return bumps, addrs, err
	}
	bumps.Obligation = obligationBump
	if _, bumps.DepositAccount, err = lending.FindDepositAccount(reserve, addrs.Authority); err != nil {
		return bumps, addrs, err
	}
	if _, bumps.CollateralAccount, err = lending.FindCollateralAccount(reserve, obligation, addrs.Authority); err != nil {
		return bumps, addrs, err
	}
	if _, bumps.LoanAccount, err = lending.FindLoanAccount(reserve, obligation, addrs.Authority); err != nil {
		return bumps, addrs, err
	}
	return bumps, addrs, nil
}

// verifyAddresses checks the vault-side bumps and returns the addresses they
// prove.
func verifyAddresses(name Name, bumps Bumps) (Addresses, error) {
	var addrs Addresses
	var err error
	if addrs.Vault, err = crypto.VerifyBump(ProgramAddress, bumps.Vault, name.Bytes()); err != nil {
		return addrs, err
	}
	if addrs.Authority, err = crypto.VerifyBump(ProgramAddress, bumps.Authority, []byte(seedAuthority), name.Bytes()); err != nil {
		return addrs, err
	}
	if addrs.ClaimMint, err = crypto.VerifyBump(ProgramAddress, bumps.ClaimMint, []byte(seedClaimMint), name.Bytes()); err != nil {
		return addrs, err
	}
	if addrs.PoolAccount, err = crypto.VerifyBump(ProgramAddress, bumps.PoolAccount, []byte(seedPoolAccount), name.Bytes()); err != nil {
		return addrs, err
	}
	return addrs, nil
}
