package data

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banachtech/svi-surface/util"
)

const (
	sep29 = int64(1695974400000)
	dec29 = int64(1703836800000)
)

var t0 = time.Date(2023, 9, 15, 8, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T) Snapshot {
	tauDec := 104.0 / 360
	put, err := BlackService{}.Price(30500, 26000, 0.7, 0, tauDec, Put)
	require.NoError(t, err)

	return Snapshot{
		Label: "20230915_080000",
		T0:    t0,
		Spot:  30000,
		Futures: []FutureQuote{
			{Instrument: "BTC-PERPETUAL", Expiration: 32503680000000, LastPrice: 29000},
			{Instrument: "BTC-29DEC23", Expiration: dec29, LastPrice: 30500},
			{Instrument: "BTC-29SEP23", Expiration: sep29, LastPrice: 0, MarkPrice: 30100},
		},
		Options: []OptionQuote{
			{Type: "call", Strike: 31000, Expiration: sep29, ImpliedVol: 0.5},
			{Type: "call", Strike: 29000, Expiration: sep29, ImpliedVol: 0.5},
			{Type: "put", Strike: 29000, Expiration: sep29, ImpliedVol: 0.55},
			{Type: "put", Strike: 31000, Expiration: sep29, ImpliedVol: 0.55},
			{Type: "call", Strike: 35000, Expiration: dec29, ImpliedVol: 0.6},
			{Type: "put", Strike: 26000, Expiration: dec29, MarkPrice: put / 30500},
			{Type: "put", Strike: 25000, Expiration: dec29},
			{Type: "call", Strike: 35000, Expiration: 1693555200000, ImpliedVol: 0.6},
		},
	}
}

func TestRateCurve(t *testing.T) {
	snap := testSnapshot(t)
	curve, err := NewRateCurve(snap, util.Thirty360{})
	require.NoError(t, err)

	tauSep, tauDec := 14.0/360, 104.0/360
	rSep, rDec := math.Log(30100.0/30000)/tauSep, math.Log(30500.0/30000)/tauDec
	require.Equal(t, []float64{tauSep, tauDec}, curve.Tau)
	require.InDelta(t, rSep, curve.Rates[0], 1e-12)
	require.InDelta(t, rDec, curve.Rates[1], 1e-12)

	type testCases struct {
		name string
		tau  float64
		want float64
	}

	mid := (tauSep + tauDec) / 2
	for _, test := range []testCases{
		{name: "BELOW_FIRST", tau: 1.0 / 360, want: rSep},
		{name: "FIRST", tau: tauSep, want: rSep},
		{name: "MIDPOINT", tau: mid, want: (rSep + rDec) / 2},
		{name: "LAST", tau: tauDec, want: rDec},
		{name: "ABOVE_LAST", tau: 2, want: rDec},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.InDelta(t, test.want, curve.Rate(test.tau), 1e-12)
		})
	}
	require.InDelta(t, 30500, curve.Forward(tauDec), 1e-8)

	snap.Futures = snap.Futures[:1]
	_, err = NewRateCurve(snap, util.Thirty360{})
	require.ErrorIs(t, err, ErrNoForwardCurve)

	snap.Spot = 0
	_, err = NewRateCurve(snap, util.Thirty360{})
	require.Error(t, err)
}

func TestClean(t *testing.T) {
	quotes, curve, err := NewCleaner().Clean(testSnapshot(t))
	require.NoError(t, err)
	require.Len(t, curve.Tau, 2)
	require.Len(t, quotes, 4)

	type want struct {
		option string
		strike float64
		tau    float64
	}
	for i, w := range []want{
		{Put, 29000, 14.0 / 360},
		{Call, 31000, 14.0 / 360},
		{Put, 26000, 104.0 / 360},
		{Call, 35000, 104.0 / 360},
	} {
		q := quotes[i]
		require.Equal(t, w.option, q.Type)
		require.Equal(t, w.strike, q.Strike)
		require.InDelta(t, w.tau, q.Tau, 1e-15)
		require.InDelta(t, math.Log(q.Strike/q.Forward), q.Moneyness, 1e-15)
		if q.Type == Call {
			require.GreaterOrEqual(t, q.Strike, q.Forward)
		} else {
			require.Less(t, q.Strike, q.Forward)
		}
	}
	require.InDelta(t, 30100, quotes[0].Forward, 1e-8)
	require.InDelta(t, 0.7, quotes[2].Vol, 1e-4)
	require.Equal(t, 0.6, quotes[3].Vol)
	require.Equal(t, quotes[3].Observation().Tau, quotes[3].Tau)
}

func TestCleanInvalidType(t *testing.T) {
	snap := testSnapshot(t)
	snap.Options[0].Type = "straddle"
	_, _, err := NewCleaner().Clean(snap)
	require.ErrorIs(t, err, ErrInvalidOptionType)
}
