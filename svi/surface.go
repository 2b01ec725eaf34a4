package svi

import (
	"fmt"
	"sort"
)

// Knot is one fitted maturity of a term structure.
type Knot struct {
	Tau   float64
	Smile Smile
}

// Surface blends fitted slices across maturities. Knots are kept sorted by tau.
type Surface struct {
	knots []Knot
}

// NewSurface builds a term structure from fitted knots. Later knots with a
// duplicate maturity replace earlier ones.
func NewSurface(knots ...Knot) *Surface {
	byTau := map[float64]Smile{}
	for _, k := range knots {
		byTau[k.Tau] = k.Smile
	}
	s := &Surface{knots: make([]Knot, 0, len(byTau))}
	for tau, smile := range byTau {
		s.knots = append(s.knots, Knot{Tau: tau, Smile: smile})
	}
	sort.Slice(s.knots, func(i, j int) bool { return s.knots[i].Tau < s.knots[j].Tau })
	return s
}

// SurfaceFromParams builds a term structure from calibrated slices.
func SurfaceFromParams(params []Params) *Surface {
	knots := make([]Knot, len(params))
	for i, p := range params {
		knots[i] = Knot{Tau: p.T, Smile: p}
	}
	return NewSurface(knots...)
}

// Maturities returns the fitted maturities in ascending order.
func (s *Surface) Maturities() []float64 {
	out := make([]float64, len(s.knots))
	for i, k := range s.knots {
		out[i] = k.Tau
	}
	return out
}

// Bracket returns the indices of the nearest knots at or below and at or
// above t. Outside the fitted range both indices point at the edge knot.
func (s *Surface) Bracket(t float64) (lo, hi int, err error) {
	n := len(s.knots)
	if n == 0 {
		return 0, 0, ErrEmptySurface
	}
	i := sort.Search(n, func(i int) bool { return s.knots[i].Tau >= t })
	switch {
	case i < n && s.knots[i].Tau == t:
		return i, i, nil
	case i == 0:
		return 0, 0, nil
	case i == n:
		return n - 1, n - 1, nil
	}
	return i - 1, i, nil
}

// VolAt returns the volatility at maturity t and moneyness x, linearly
// blending the two bracketing slices by (t - t0)/(t1 - t0).
func (s *Surface) VolAt(t, x float64) (float64, error) {
	lo, hi, err := s.Bracket(t)
	if err != nil {
		return 0, err
	}
	v0, err := s.knots[lo].Smile.Vol(x)
	if err != nil {
		return 0, fmt.Errorf("slice t=%g: %w", s.knots[lo].Tau, err)
	}
	if lo == hi {
		return v0, nil
	}
	v1, err := s.knots[hi].Smile.Vol(x)
	if err != nil {
		return 0, fmt.Errorf("slice t=%g: %w", s.knots[hi].Tau, err)
	}
	t0, t1 := s.knots[lo].Tau, s.knots[hi].Tau
	f := (t - t0) / (t1 - t0)
	return (1-f)*v0 + f*v1, nil
}
