package data

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banachtech/svi-surface/util"
)

// ErrNoForwardCurve is returned when a snapshot has no dated future to imply rates from.
var ErrNoForwardCurve = errors.New("no dated futures to imply a forward curve")

// perpetuals expire in year 3000
var perpetualCutoff = time.Date(2900, 1, 1, 0, 0, 0, 0, time.UTC)

// RateCurve holds futures-implied continuously compounded rates by tenor.
type RateCurve struct {
	Spot  float64
	Tau   []float64
	Rates []float64
}

// NewRateCurve implies r(tau) = ln(F/S0)/tau from each dated future,
// dropping perpetuals and expired or unpriced contracts.
func NewRateCurve(snap Snapshot, dc DayCountService) (RateCurve, error) {
	if !(snap.Spot > 0) {
		return RateCurve{}, fmt.Errorf("spot must be positive, got %g", snap.Spot)
	}
	type point struct{ tau, r float64 }
	var pts []point
	for _, f := range snap.Futures {
		expiry := util.FromMillis(f.Expiration)
		if expiry.After(perpetualCutoff) {
			continue
		}
		price := f.LastPrice
		if !(price > 0) {
			price = f.MarkPrice
		}
		tau := dc.YearFraction(snap.T0, expiry)
		if !(tau > 0 && price > 0) {
			continue
		}
		pts = append(pts, point{tau: tau, r: math.Log(price/snap.Spot) / tau})
	}
	if len(pts) == 0 {
		return RateCurve{}, ErrNoForwardCurve
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].tau < pts[j].tau })

	c := RateCurve{Spot: snap.Spot}
	for _, p := range pts {
		c.Tau = append(c.Tau, p.tau)
		c.Rates = append(c.Rates, p.r)
	}
	return c, nil
}

// Rate interpolates linearly in tau with flat extrapolation.
func (c RateCurve) Rate(tau float64) float64 {
	n := len(c.Tau)
	i := sort.SearchFloat64s(c.Tau, tau)
	switch {
	case i == 0:
		return c.Rates[0]
	case i == n:
		return c.Rates[n-1]
	case c.Tau[i] == tau:
		return c.Rates[i]
	}
	t0, t1 := c.Tau[i-1], c.Tau[i]
	f := (tau - t0) / (t1 - t0)
	return (1-f)*c.Rates[i-1] + f*c.Rates[i]
}

// Forward returns S0 * exp(r(tau) * tau).
func (c RateCurve) Forward(tau float64) float64 {
	return c.Spot * math.Exp(c.Rate(tau)*tau)
}

// Cleaner turns raw snapshots into out-of-the-money quotes.
type Cleaner struct {
	DayCount DayCountService
	// ImpliedVol backs out a volatility for options quoted without mark_iv.
	ImpliedVol ImpliedVolatilityService
}

func NewCleaner() Cleaner {
	return Cleaner{DayCount: util.Thirty360{}, ImpliedVol: BlackService{}}
}

// Clean prices every option off the futures-implied forward curve and keeps
// calls with K >= F and puts with K < F, sorted by (tau, strike).
func (cl Cleaner) Clean(snap Snapshot) ([]Quote, RateCurve, error) {
	curve, err := NewRateCurve(snap, cl.DayCount)
	if err != nil {
		return nil, RateCurve{}, err
	}

	var out []Quote
	for _, o := range snap.Options {
		option, err := normaliseType(o.Type)
		if err != nil {
			return nil, RateCurve{}, err
		}
		expiry := util.FromMillis(o.Expiration)
		tau := cl.DayCount.YearFraction(snap.T0, expiry)
		if !(tau > 0 && o.Strike > 0) {
			continue
		}
		f := curve.Forward(tau)
		if option == Call && o.Strike < f || option == Put && o.Strike >= f {
			continue
		}

		vol := o.ImpliedVol
		if !(vol > 0) && o.MarkPrice > 0 && cl.ImpliedVol != nil {
			// mark price is in units of the underlying and undiscounted
			vol, err = cl.ImpliedVol.ImpliedVolFromPrice(o.MarkPrice*f, f, o.Strike, 0, tau, option)
			if err != nil {
				continue
			}
		}
		if !(vol > 0) {
			continue
		}
		out = append(out, Quote{
			Type:      option,
			Strike:    o.Strike,
			Expiry:    expiry,
			Tau:       tau,
			Forward:   f,
			Moneyness: math.Log(o.Strike / f),
			Vol:       vol,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tau != out[j].Tau {
			return out[i].Tau < out[j].Tau
		}
		return out[i].Strike < out[j].Strike
	})
	return out, curve, nil
}
