package vault

import (
	"github.com/holiman/uint256"

	vaulterrors "epochvault/core/errors"
)

// ClaimsForDeposit returns the claims minted for depositing amount into a pool
// worth pool that has supply claims outstanding. The first deposit mints
// claims one to one. Results round down so a deposit never dilutes existing
// holders.
func ClaimsForDeposit(amount, supply, pool uint64) (uint64, error) {
	if supply == 0 {
		return amount, nil
	}
	if pool == 0 {
		return 0, vaulterrors.New(vaulterrors.KindOverflow, vaulterrors.ReasonEmptyPool,
			"pool is empty while claims are outstanding")
	}
	return mulDiv(amount, supply, pool)
}

// UnderlyingForClaims returns what claims redeem for out of a pool worth pool
// with supply claims outstanding, rounded down.
func UnderlyingForClaims(claims, supply, pool uint64) (uint64, error) {
	if supply == 0 {
		return 0, vaulterrors.New(vaulterrors.KindOverflow, vaulterrors.ReasonNoClaimsOutstanding,
			"no claims outstanding")
	}
	return mulDiv(claims, pool, supply)
}

// mulDiv computes floor(a*b/c) through a 256-bit intermediate.
func mulDiv(a, b, c uint64) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient := product.Div(product, uint256.NewInt(c))
	if !quotient.IsUint64() {
		return 0, vaulterrors.New(vaulterrors.KindOverflow, vaulterrors.ReasonResultTooLarge,
			"share conversion does not fit in 64 bits")
	}
	return quotient.Uint64(), nil
}
