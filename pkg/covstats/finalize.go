package covstats

import (
	"math"
	"math/big"
)

// Finalize converts sufficient statistics into the mean and the population
// standard deviation:
//
//	mean   = sum / count
//	stddev = sqrt((count*sumSquares - sum*sum) / (count*count))
//
// The numerator is evaluated exactly: sumSquares alone can exceed int64, and
// count*sumSquares routinely does for whole-chromosome groups. A negative
// radicand is clamped to 0.
func Finalize(count, sum int64, sumSquares *big.Int) (mean, stddev float64, err error) {
	if count <= 0 {
		return 0, 0, ErrEmptyGroup
	}

	mean = float64(sum) / float64(count)

	n := big.NewInt(count)
	num := new(big.Int).Mul(n, sumSquares)
	num.Sub(num, new(big.Int).Mul(big.NewInt(sum), big.NewInt(sum)))
	den := new(big.Int).Mul(n, n)

	radicand, _ := new(big.Rat).SetFrac(num, den).Float64()
	if radicand < 0 || math.IsNaN(radicand) {
		radicand = 0
	}
	return mean, math.Sqrt(radicand), nil
}
