package svi

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Settings bounds the outer (S, M) search. The calibration core takes no
// configuration beyond these numbers.
type Settings struct {
	// MaxIterations is the Nelder-Mead major iteration budget per round.
	MaxIterations int
	// Tolerance is the smallest cost improvement that resets the stall counter.
	Tolerance float64
	// StallIterations is the number of iterations without improvement
	// after which the search is declared converged.
	StallIterations int
	// Restarts re-runs the simplex from the best point found.
	Restarts      int
	InitialScale  float64
	InitialCenter float64
	// MinScale is the exclusive lower bound on S.
	MinScale    float64
	SimplexSize float64
}

// DefaultSettings starts from S0 = 0.1, M0 = 0 and keeps S > 0.001.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations:   10000,
		Tolerance:       1e-22,
		StallIterations: 100,
		Restarts:        1,
		InitialScale:    0.1,
		InitialCenter:   0.0,
		MinScale:        0.001,
		SimplexSize:     0.05,
	}
}

// Fit is the result of calibrating one slice.
type Fit struct {
	Params      Params
	Coeffs      Coeffs
	Iterations  int
	Evaluations int
	Status      optimize.Status
}

// shape maps (S, M) to an unconstrained vector: u = log(S - MinScale).
type shape struct {
	min float64
}

func (sh shape) get(s, m float64) []float64 {
	return []float64{math.Log(s - sh.min), m}
}

func (sh shape) set(p []float64) (s, m float64) {
	return sh.min + math.Exp(p[0]), p[1]
}

// CalibrateSlice fits the SVI parameters of one maturity slice. The
// maturity is the largest tau in obs; total variance is vol^2 * tau.
func CalibrateSlice(obs []Observation, set Settings) (Fit, error) {
	if len(obs) < MinObservations {
		return Fit{}, fmt.Errorf("%w: %d < %d", ErrUnderdetermined, len(obs), MinObservations)
	}
	x, v, tau := Split(obs)
	if !(tau > 0) {
		return Fit{}, fmt.Errorf("svi: maturity must be positive, got %g", tau)
	}
	if set.InitialScale <= set.MinScale {
		return Fit{}, fmt.Errorf("svi: initial scale %g must exceed min scale %g", set.InitialScale, set.MinScale)
	}

	sh := shape{min: set.MinScale}
	var solveErr error
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			s, m := sh.set(p)
			c, err := SolveSlice(s, m, x, v)
			if err != nil {
				solveErr = err
				return math.Inf(1)
			}
			return c.Cost
		},
		Status: func() (optimize.Status, error) {
			if solveErr != nil {
				return optimize.Failure, solveErr
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := func() *optimize.Settings {
		return &optimize.Settings{
			MajorIterations: set.MaxIterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   set.Tolerance,
				Iterations: set.StallIterations,
			},
		}
	}

	var fit Fit
	start := sh.get(set.InitialScale, set.InitialCenter)
	for round := 0; round <= set.Restarts; round++ {
		res, err := optimize.Minimize(problem, start, settings(), &optimize.NelderMead{SimplexSize: set.SimplexSize})
		if solveErr != nil {
			return Fit{}, solveErr
		}
		if err == nil && res.Status.Early() {
			err = res.Status.Err()
		}
		if err != nil {
			if round > 0 {
				break
			}
			return Fit{}, fmt.Errorf("%w: %v", ErrNonConvergence, err)
		}
		fit.Iterations += res.Stats.MajorIterations
		fit.Evaluations += res.Stats.FuncEvaluations
		fit.Status = res.Status
		start = res.X
	}

	s, m := sh.set(start)
	c, err := SolveSlice(s, m, x, v)
	if err != nil {
		return Fit{}, err
	}
	fit.Coeffs = c
	fit.Params = c.Params(s, m, tau)
	return fit, nil
}

// IsFatal reports whether err breaks an engine invariant rather than
// describing a slice that simply could not be fitted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDomainInfeasible)
}
