package extfn

import "math"

// rational approximation coefficients for the lower tail quantile of the
// standard normal distribution (Peter Acklam's algorithm). Relative error is
// below 1.15e-9 over the full domain.
var (
	ltqA = [6]float64{
		-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00,
	}
	ltqB = [5]float64{
		-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01,
	}
	ltqC = [6]float64{
		-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00,
	}
	ltqD = [4]float64{
		7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00,
	}
)

const ltqLow = 0.02425

// ltqnorm computes the inverse cumulative distribution function of the
// standard normal distribution at probability p. Returns NaN outside (0, 1)
// and the appropriate infinity at the boundaries.
func ltqnorm(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0 || p > 1:
		return math.NaN()
	case p == 0:
		return math.Inf(-1)
	case p == 1:
		return math.Inf(1)
	case p < ltqLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((ltqC[0]*q+ltqC[1])*q+ltqC[2])*q+ltqC[3])*q+ltqC[4])*q + ltqC[5]) /
			((((ltqD[0]*q+ltqD[1])*q+ltqD[2])*q+ltqD[3])*q + 1)
	case p > 1-ltqLow:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((ltqC[0]*q+ltqC[1])*q+ltqC[2])*q+ltqC[3])*q+ltqC[4])*q + ltqC[5]) /
			((((ltqD[0]*q+ltqD[1])*q+ltqD[2])*q+ltqD[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((ltqA[0]*r+ltqA[1])*r+ltqA[2])*r+ltqA[3])*r+ltqA[4])*r + ltqA[5]) * q /
			(((((ltqB[0]*r+ltqB[1])*r+ltqB[2])*r+ltqB[3])*r+ltqB[4])*r + 1)
	}
}
