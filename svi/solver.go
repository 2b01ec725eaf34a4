package svi

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// gram holds the sufficient statistics of the least-squares regression of v
// on the basis {1, y, sqrt(y^2+1)}.
type gram struct {
	n, y, y2, y2one, ysq, y2sq float64
	v, vy, vsq, vmax           float64
	s                          float64
}

func newGram(ys, v []float64, s float64) gram {
	g := gram{n: float64(len(ys)), s: s, vmax: floats.Max(v)}
	for i, y := range ys {
		r := math.Sqrt(y*y + 1)
		g.y += y
		g.y2 += y * y
		g.y2one += y*y + 1
		g.ysq += r
		g.y2sq += y * r
		g.v += v[i]
		g.vy += v[i] * y
		g.vsq += v[i] * r
	}
	return g
}

// face is an affine stratum of D: (a, d, c) = origin + basis*z for free z.
// D is the box a in [0, max(v)] times the (d, c) diamond with vertices
// (0, 0), (2s, 2s), (0, 4s) and (-2s, 2s).
type face struct {
	name   string
	origin [3]float64
	basis  [][3]float64
}

func (g gram) normal() (*mat.Dense, *mat.VecDense) {
	return mat.NewDense(3, 3, []float64{
			g.n, g.y, g.ysq,
			g.y, g.y2, g.y2sq,
			g.ysq, g.y2sq, g.y2one,
		}),
		mat.NewVecDense(3, []float64{g.v, g.vy, g.vsq})
}

// faces enumerates every stratum of D: the level a is free or pinned to one
// of its bounds, and (d, c) ranges over the diamond's interior, one of its
// four edges or one of its four vertices.
func (g gram) faces() []face {
	s2, s4 := 2*g.s, 4*g.s
	type level struct {
		name string
		a    float64
		free bool
	}
	type shape struct {
		name   string
		origin [2]float64
		basis  [][2]float64
	}
	levels := []level{{"", 0, true}, {"a=0", 0, false}, {"a=max(v)", g.vmax, false}}
	shapes := []shape{
		{"", [2]float64{0, 0}, [][2]float64{{1, 0}, {0, 1}}},
		{"d=c", [2]float64{0, 0}, [][2]float64{{1, 1}}},
		{"d=-c", [2]float64{0, 0}, [][2]float64{{-1, 1}}},
		{"d=4s-c", [2]float64{0, s4}, [][2]float64{{1, -1}}},
		{"d=c-4s", [2]float64{0, s4}, [][2]float64{{-1, -1}}},
		{"c=0,d=0", [2]float64{0, 0}, nil},
		{"c=2s,d=2s", [2]float64{s2, s2}, nil},
		{"c=4s,d=0", [2]float64{0, s4}, nil},
		{"c=2s,d=-2s", [2]float64{-s2, s2}, nil},
	}

	out := make([]face, 0, len(levels)*len(shapes))
	for _, l := range levels {
		for _, sh := range shapes {
			f := face{origin: [3]float64{l.a, sh.origin[0], sh.origin[1]}}
			switch {
			case l.name == "" && sh.name == "":
				f.name = "interior"
			case l.name == "":
				f.name = sh.name
			case sh.name == "":
				f.name = l.name
			default:
				f.name = l.name + "," + sh.name
			}
			if l.free {
				f.basis = append(f.basis, [3]float64{1, 0, 0})
			}
			for _, b := range sh.basis {
				f.basis = append(f.basis, [3]float64{0, b[0], b[1]})
			}
			out = append(out, f)
		}
	}
	return out
}

// solve returns the minimiser of the quadratic objective restricted to the
// affine hull of f: (B'GB) z = B'(r - G*origin).
func (g gram) solve(f face) (a, d, c float64, ok bool) {
	if len(f.basis) == 0 {
		return f.origin[0], f.origin[1], f.origin[2], true
	}
	gm, r := g.normal()
	k := len(f.basis)
	bm := mat.NewDense(3, k, nil)
	for j, b := range f.basis {
		for i := range b {
			bm.Set(i, j, b[i])
		}
	}
	origin := mat.NewVecDense(3, f.origin[:])

	var gb, lhs mat.Dense
	gb.Mul(gm, bm)
	lhs.Mul(bm.T(), &gb)

	var res, rhs mat.VecDense
	res.MulVec(gm, origin)
	res.SubVec(r, &res)
	rhs.MulVec(bm.T(), &res)

	z, ok := solveSystem(&lhs, &rhs)
	if !ok {
		return 0, 0, 0, false
	}
	var p mat.VecDense
	p.MulVec(bm, z)
	p.AddVec(&p, origin)
	return p.AtVec(0), p.AtVec(1), p.AtVec(2), true
}

// solveSystem solves a small linear system. A finite mat.Condition is only a
// warning: the solution is filled in and admissibility decides its fate.
func solveSystem(a mat.Matrix, b mat.Vector) (*mat.VecDense, bool) {
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, false
		}
	}
	for i := 0; i < x.Len(); i++ {
		if v := x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return &x, true
}

// project snaps a point accepted within eps onto D itself, so |d| <= c holds
// exactly and the reported P = d/c stays in [-1, 1].
func (g gram) project(a, d, c float64) (float64, float64, float64) {
	s4 := 4 * g.s
	c = math.Min(c, s4)
	lim := math.Max(math.Min(c, s4-c), 0)
	d = math.Min(math.Max(d, -lim), lim)
	a = math.Min(math.Max(a, 0), g.vmax)
	return a, d, c
}

func standardise(s, m float64, x []float64) []float64 {
	ys := make([]float64, len(x))
	for i := range x {
		ys[i] = (x[i] - m) / s
	}
	return ys
}

func checkSlice(s float64, x, v []float64) error {
	if !(s > 0) {
		return fmt.Errorf("svi: scale must be positive, got %g", s)
	}
	if len(x) != len(v) {
		return fmt.Errorf("svi: %d moneyness values for %d variances", len(x), len(v))
	}
	if len(x) < MinObservations {
		return fmt.Errorf("%w: %d < %d", ErrUnderdetermined, len(x), MinObservations)
	}
	return nil
}

// SolveSlice returns the (a, d, c) minimising Cost inside D for a fixed
// scale s and center m. The unconstrained least-squares solution is
// returned when it is admissible; otherwise every stratum of D is solved
// exactly and the cheapest admissible candidate is returned. The objective
// is convex, so this is the constrained optimum.
func SolveSlice(s, m float64, x, v []float64) (Coeffs, error) {
	if err := checkSlice(s, x, v); err != nil {
		return Coeffs{}, err
	}
	ys := standardise(s, m, x)
	g := newGram(ys, v, s)

	if a, d, c, ok := g.solve(g.faces()[0]); ok && acceptable(s, a, d, c, g.vmax) {
		a, d, c = g.project(a, d, c)
		return Coeffs{A: a, D: d, C: c, Cost: Cost(ys, a, d, c, v), Facet: "interior"}, nil
	}

	best, found := Coeffs{Cost: math.Inf(1)}, false
	for _, c := range g.candidates(ys, v) {
		if c.Cost < best.Cost || !found {
			best, found = c, true
		}
	}
	if !found {
		return Coeffs{}, fmt.Errorf("%w: S=%g, M=%g", ErrDomainInfeasible, s, m)
	}
	return best, nil
}

// BoundaryCandidates returns the admissible minimiser of every boundary
// stratum of D at (s, m), in enumeration order.
func BoundaryCandidates(s, m float64, x, v []float64) ([]Coeffs, error) {
	if err := checkSlice(s, x, v); err != nil {
		return nil, err
	}
	ys := standardise(s, m, x)
	return newGram(ys, v, s).candidates(ys, v), nil
}

func (g gram) candidates(ys, v []float64) []Coeffs {
	var out []Coeffs
	for _, f := range g.faces()[1:] {
		a, d, c, ok := g.solve(f)
		if !ok || !acceptable(g.s, a, d, c, g.vmax) {
			continue
		}
		a, d, c = g.project(a, d, c)
		out = append(out, Coeffs{A: a, D: d, C: c, Cost: Cost(ys, a, d, c, v), Facet: f.name})
	}
	return out
}
