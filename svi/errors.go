package svi

import "errors"

var (
	// ErrUnderdetermined is returned for slices with fewer than MinObservations quotes.
	ErrUnderdetermined = errors.New("svi: slice has too few observations")
	// ErrDomainInfeasible means no closed-form candidate landed in the admissible domain.
	// D is convex and bounded so this indicates a broken invariant, never a bad fit.
	ErrDomainInfeasible = errors.New("svi: no feasible candidate in admissible domain")
	// ErrNonConvergence is returned when the outer minimiser stops early.
	ErrNonConvergence = errors.New("svi: shape optimiser did not converge")
	// ErrOutOfDomain is returned when a fitted variance is negative or NaN.
	ErrOutOfDomain = errors.New("svi: fitted variance out of domain")
	// ErrEmptySurface is returned when a term structure has no fitted slices.
	ErrEmptySurface = errors.New("svi: surface has no slices")
)
