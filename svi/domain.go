package svi

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// eps is the float64 machine epsilon, applied at every boundary of D.
var eps = math.Nextafter(1, 2) - 1

// Acceptable reports whether (s, a, d, c) lies in Zeliade's domain D:
// 0 < c <= 4s, |d| <= min(c, 4s-c), 0 <= a <= max(v).
func Acceptable(s, a, d, c float64, v []float64) bool {
	if len(v) == 0 {
		return false
	}
	return acceptable(s, a, d, c, floats.Max(v))
}

func acceptable(s, a, d, c, vmax float64) bool {
	if !(s > 0) {
		return false
	}
	return -eps <= c && c <= 4*s+eps &&
		math.Abs(d) <= math.Min(c, 4*s-c)+eps &&
		-eps <= a && a <= vmax+eps &&
		c > 0
}

// Cost is the sum of squared total-variance residuals
// sum (a + d*y + c*sqrt(y^2+1) - v)^2 over standardised moneyness y.
func Cost(y []float64, a, d, c float64, v []float64) float64 {
	var sum float64
	for i := range y {
		r := a + d*y[i] + c*math.Sqrt(y[i]*y[i]+1) - v[i]
		sum += r * r
	}
	return sum
}
