package lending

import "epochvault/crypto"

const (
	seedMarketAuthority = "market-authority"
	seedObligation      = "obligation"
	seedDeposits        = "deposits"
	seedCollateral      = "collateral"
	seedLoan            = "loan"
)

func obligationSeeds(market, owner crypto.Address) [][]byte {
	return [][]byte{[]byte(seedObligation), market.Bytes(), owner.Bytes()}
}

func depositSeeds(reserve, owner crypto.Address) [][]byte {
	return [][]byte{[]byte(seedDeposits), reserve.Bytes(), owner.Bytes()}
}

func collateralSeeds(reserve, obligation, owner crypto.Address) [][]byte {
	return [][]byte{[]byte(seedCollateral), reserve.Bytes(), obligation.Bytes(), owner.Bytes()}
}

func loanSeeds(reserve, obligation, owner crypto.Address) [][]byte {
	return [][]byte{[]byte(seedLoan), reserve.Bytes(), obligation.Bytes(), owner.Bytes()}
}

// MarketAuthority derives the custody authority of a market.
func MarketAuthority(market crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(ProgramAddress, []byte(seedMarketAuthority), market.Bytes())
}

func marketAuthoritySigner(market *Market) crypto.Authority {
	return crypto.NewAuthority(ProgramAddress, seedMarketAuthority, market.Address.Bytes(), market.AuthorityBump)
}

// FindObligation returns the obligation address of owner in market and its bump.
func FindObligation(market, owner crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(ProgramAddress, obligationSeeds(market, owner)...)
}

// FindDepositAccount returns owner's deposit-note account in reserve.
func FindDepositAccount(reserve, owner crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(ProgramAddress, depositSeeds(reserve, owner)...)
}

// FindCollateralAccount returns the account holding owner's posted collateral.
func FindCollateralAccount(reserve, obligation, owner crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(ProgramAddress, collateralSeeds(reserve, obligation, owner)...)
}

// FindLoanAccount returns the account holding owner's loan notes.
func FindLoanAccount(reserve, obligation, owner crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(ProgramAddress, loanSeeds(reserve, obligation, owner)...)
}
