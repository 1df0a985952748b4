package lending

import "math/big"

// InterestParams is the persisted form of an interest model, in basis points.
type InterestParams struct {
	BaseRateBps      uint64 `toml:"BaseRateBps" yaml:"base_rate_bps"`
	Slope1Bps        uint64 `toml:"Slope1Bps" yaml:"slope1_bps"`
	Slope2Bps        uint64 `toml:"Slope2Bps" yaml:"slope2_bps"`
	KinkBps          uint64 `toml:"KinkBps" yaml:"kink_bps"`
	ReserveFactorBps uint64 `toml:"ReserveFactorBps" yaml:"reserve_factor_bps"`
}

// DefaultInterestParams is a kinked curve with a modest base rate.
func DefaultInterestParams() InterestParams {
	return InterestParams{BaseRateBps: 200, Slope1Bps: 1_500, Slope2Bps: 6_000, KinkBps: 8_000, ReserveFactorBps: 1_000}
}

// Model expands the parameters into rational rates.
func (p InterestParams) Model() *InterestModel {
	return &InterestModel{
		BaseRate: bpsRat(p.BaseRateBps),
		Slope1:   bpsRat(p.Slope1Bps),
		Slope2:   bpsRat(p.Slope2Bps),
		Kink:     bpsRat(p.KinkBps),
	}
}

func bpsRat(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

// InterestModel encapsulates how the borrow rate reacts to utilisation.
type InterestModel struct {
	// BaseRate is the borrow APR at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the APR increase per unit of utilisation up to the kink.
	Slope1 *big.Rat
	// Slope2 is the additional APR increase beyond the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
}

// Utilisation computes U = borrowed / total. Zero when nothing is supplied.
func (m *InterestModel) Utilisation(borrowed, total *big.Int) *big.Rat {
	if borrowed == nil || borrowed.Sign() == 0 || total == nil || total.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(borrowed, total)
}

// BorrowAPR derives the borrow APR for the current utilisation.
func (m *InterestModel) BorrowAPR(borrowed, total *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(borrowed, total)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
