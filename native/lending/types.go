package lending

import (
	"math/big"

	"epochvault/crypto"
)

// ProgramAddress owns every venue-derived address.
var ProgramAddress = crypto.ProgramID("epochvault/lending")

// Market groups reserves under one admin and one derived custody authority.
type Market struct {
	Address crypto.Address
	// Owner administers the market and its reserves.
	Owner crypto.Address
	// Authority owns reserve liquidity and every collateral or loan account.
	Authority     crypto.Address
	AuthorityBump uint8
	Risk          RiskParameters
}

// RiskParameters bound how much may be borrowed against collateral.
type RiskParameters struct {
	// MaxLTVBps is the maximum debt to collateral value ratio in basis points.
	MaxLTVBps uint64
}

// Reserve pools one liquidity asset. Depositors receive deposit notes whose
// exchange rate grows as borrowers accrue interest.
type Reserve struct {
	Address         crypto.Address
	Market          crypto.Address
	LiquidityMint   crypto.Address
	LiquiditySupply crypto.Address
	DepositNoteMint crypto.Address
	LoanNoteMint    crypto.Address
	// BorrowIndex converts loan notes to debt, scaled by ray.
	BorrowIndex *big.Int
	// ProtocolFees is the accrued interest reserved for the market owner and
	// excluded from depositor value.
	ProtocolFees *big.Int
	// LastRefresh is the unix second of the latest accrual.
	LastRefresh uint64
	Interest    InterestParams
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	if r.BorrowIndex != nil {
		clone.BorrowIndex = new(big.Int).Set(r.BorrowIndex)
	}
	if r.ProtocolFees != nil {
		clone.ProtocolFees = new(big.Int).Set(r.ProtocolFees)
	}
	return &clone
}

// Obligation tracks one borrower's collateral and loan accounts.
type Obligation struct {
	Address           crypto.Address
	Market            crypto.Address
	Owner             crypto.Address
	CollateralAccount crypto.Address
	LoanAccount       crypto.Address
}

// Clone returns a copy safe to mutate.
func (o *Obligation) Clone() *Obligation {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// ReserveSnapshot is a read model of a reserve's current accounting.
type ReserveSnapshot struct {
	Available       uint64
	Debt            *big.Int
	TotalValue      *big.Int
	DepositNotes    uint64
	LoanNotes       uint64
	BorrowIndex     *big.Int
	BorrowAPR       *big.Rat
	LastRefreshUnix uint64
}
