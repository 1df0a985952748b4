package lending

import "math/big"

const secondsPerYear = 31_536_000

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000")
	halfRay     = new(big.Int).Rsh(ray, 1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	return product.Quo(product, ray)
}

func ratToRay(r *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	return new(big.Int).Quo(new(big.Int).Add(scaled.Num(), halfUp(scaled.Denom())), scaled.Denom())
}

// rateFactor is 1 + rate*delta/year in ray precision.
func rateFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	accrued := new(big.Rat).Quo(rate, new(big.Rat).SetUint64(secondsPerYear))
	accrued.Mul(accrued, new(big.Rat).SetUint64(delta))
	return ratToRay(accrued.Add(accrued, big.NewRat(1, 1)))
}

// debtFromNotes rounds up so borrowers never repay less than they owe.
func debtFromNotes(notes uint64, index *big.Int) *big.Int {
	if notes == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return ceilDiv(new(big.Int).Mul(new(big.Int).SetUint64(notes), index), ray)
}

// notesFromDebt rounds up so a borrow always mints at least the owed notes.
func notesFromDebt(amount uint64, index *big.Int) *big.Int {
	if amount == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return ceilDiv(new(big.Int).Mul(new(big.Int).SetUint64(amount), ray), index)
}

// mulDivBig computes floor(a*b/c).
func mulDivBig(a uint64, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(new(big.Int).SetUint64(a), b)
	return product.Quo(product, c)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	return half.Rsh(half, 1)
}
