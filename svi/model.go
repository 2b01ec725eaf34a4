package svi

import (
	"fmt"
	"math"
)

// MinObservations is the smallest slice the 3x3 normal equations can identify.
const MinObservations = 3

// Observation is one quote of a slice: log(K/F), implied vol and year fraction.
type Observation struct {
	Moneyness float64 `json:"moneyness"`
	Vol       float64 `json:"vol"`
	Tau       float64 `json:"tau"`
}

// TotalVariance returns vol^2 * tau.
func (o Observation) TotalVariance() float64 {
	return o.Vol * o.Vol * o.Tau
}

// Smile is a calibrated volatility slice that can be queried by moneyness.
type Smile interface {
	Vol(x float64) (float64, error)
}

// Params is the externally reported SVI record of one maturity slice.
type Params struct {
	T float64 `json:"t"`
	A float64 `json:"A"`
	P float64 `json:"P"`
	B float64 `json:"B"`
	S float64 `json:"S"`
	M float64 `json:"M"`
}

// Variance returns the fitted implied variance (not total variance) at moneyness x.
func (p Params) Variance(x float64) float64 {
	y := x - p.M
	return p.A + p.B*(p.P*y+math.Sqrt(y*y+p.S*p.S))
}

// Vol returns the fitted implied volatility at moneyness x.
func (p Params) Vol(x float64) (float64, error) {
	v := p.Variance(x)
	if math.IsNaN(v) || v < 0 {
		return math.NaN(), fmt.Errorf("%w: variance %g at x=%g", ErrOutOfDomain, v, x)
	}
	return math.Sqrt(v), nil
}

// SVI evaluates sqrt(A + B(P(x-M) + sqrt((x-M)^2 + S^2))).
func SVI(a, p, b, s, m, x float64) (float64, error) {
	return Params{A: a, P: p, B: b, S: s, M: m}.Vol(x)
}

// Coeffs are the fit coefficients (a, d, c) in standardised coordinates
// y = (x-M)/S, together with the squared error they achieve.
type Coeffs struct {
	A     float64
	D     float64
	C     float64
	Cost  float64
	Facet string
}

// Params maps the coefficients found at (s, m) to the reported parameters:
// A = a/tau, P = d/c, B = c/(s*tau).
func (c Coeffs) Params(s, m, tau float64) Params {
	return Params{
		T: tau,
		A: c.A / tau,
		P: c.D / c.C,
		B: c.C / (s * tau),
		S: s,
		M: m,
	}
}

// Split returns moneyness and total variance vectors plus the slice maturity,
// taken as the largest tau in the set.
func Split(obs []Observation) (x, v []float64, tau float64) {
	x = make([]float64, len(obs))
	v = make([]float64, len(obs))
	for i, o := range obs {
		if o.Tau > tau {
			tau = o.Tau
		}
		x[i] = o.Moneyness
	}
	for i, o := range obs {
		v[i] = o.Vol * o.Vol * tau
	}
	return x, v, tau
}
