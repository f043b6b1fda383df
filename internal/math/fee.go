package math

// BasisPointsDenominator is 100%.
const BasisPointsDenominator = 10_000

// MaxFeeBasisPoints caps the treasury fee at 10%.
const MaxFeeBasisPoints = 1_000

// ApplyBasisPoints returns floor(amount * bps / 10000).
func ApplyBasisPoints(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BasisPointsDenominator)
}

// ProRata returns floor(pool * share / whole): the part of pool owed to a
// holder of share out of whole. Truncation leaves the remainder in pool.
func ProRata(pool, share, whole uint64) (uint64, error) {
	return MulDiv(pool, share, whole)
}
