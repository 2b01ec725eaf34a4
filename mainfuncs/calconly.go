package mainfuncs

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/banachtech/svi-surface/data"
	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/util"
)

type Valuation struct {
	Tau       float64 `json:"tau"`
	Strike    float64 `json:"strike"`
	Forward   float64 `json:"forward"`
	Moneyness float64 `json:"moneyness"`
	Vol       float64 `json:"vol"`
}

// CalcVol evaluates the slice stored at exactly tau for strike, with the
// forward taken off the snapshot's futures curve.
func CalcVol(params *db.ParamStore, curve data.RateCurve, tau, strike, tol float64) (Valuation, error) {
	if !(strike > 0) {
		return Valuation{}, fmt.Errorf("strike must be positive, got %g", strike)
	}
	p, err := params.FindByMaturity(tau, tol)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{Tau: tau, Strike: strike, Forward: curve.Forward(tau)}
	v.Moneyness = math.Log(strike / v.Forward)
	if v.Vol, err = p.Vol(v.Moneyness); err != nil {
		return Valuation{}, err
	}
	return v, nil
}

// CalcOnly loads the snapshot and parameter file of a previous run and
// evaluates one (tau, strike) point.
func CalcOnly(cfg util.Config, timestamp string, tau, strike float64, log zerolog.Logger) (Valuation, error) {
	snap, err := data.LoadSnapshot(cfg.Store.Dir, timestamp)
	if err != nil {
		return Valuation{}, fmt.Errorf("load snapshot %s: %w", timestamp, err)
	}
	params, err := db.LoadParamStore(filepath.Join(cfg.Store.Dir, timestamp, db.ParamsFile))
	if err != nil {
		return Valuation{}, err
	}
	curve, err := data.NewRateCurve(snap, util.Thirty360{})
	if err != nil {
		return Valuation{}, err
	}

	v, err := CalcVol(params, curve, tau, strike, cfg.Store.MaturityTolerance)
	if err != nil {
		return Valuation{}, err
	}
	log.Info().Float64("tau", v.Tau).Float64("strike", v.Strike).Float64("forward", v.Forward).
		Float64("moneyness", v.Moneyness).Float64("vol", v.Vol).Msg("volatility")
	return v, nil
}
