package mainfuncs

import (
	"context"
	"math"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/banachtech/svi-surface/data"
	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/svi"
	"github.com/banachtech/svi-surface/util"
)

const (
	dec29 = int64(1703836800000)
	label = "20230915_080000"
)

var (
	t0     = time.Date(2023, 9, 15, 8, 0, 0, 0, time.UTC)
	tauDec = 104.0 / 360
	shape  = svi.Params{T: tauDec, A: 0.04, P: -0.4, B: 0.2, S: 0.15, M: 0.02}
)

// testSnapshot has one dated future at spot, so the forward is flat at 30000,
// and a noise-free smile for the December expiry.
func testSnapshot(t *testing.T) data.Snapshot {
	snap := data.Snapshot{
		Label: label,
		T0:    t0,
		Spot:  30000,
		Futures: []data.FutureQuote{
			{Instrument: "BTC-29DEC23", Expiration: dec29, LastPrice: 30000, Spot: 30000, T0: t0},
		},
	}
	for k := 25000.0; k <= 36000; k += 1000 {
		vol, err := shape.Vol(math.Log(k / 30000))
		require.NoError(t, err)
		option := data.Call
		if k < 30000 {
			option = data.Put
		}
		snap.Options = append(snap.Options, data.OptionQuote{
			Type: option, Strike: k, Expiration: dec29, ImpliedVol: vol, Spot: 30000, T0: t0,
		})
	}
	return snap
}

func testConfig(t *testing.T) util.Config {
	defaults, err := util.DefaultConfig()
	require.NoError(t, err)
	cfg := *defaults
	cfg.Store.Dir = t.TempDir()
	cfg.Calibration.Workers = 2
	return cfg
}

type fakeSource struct{ snap data.Snapshot }

func (f fakeSource) Snapshot(ctx context.Context) (data.Snapshot, error) { return f.snap, nil }

type memStore struct {
	mu   sync.Mutex
	runs map[string]*db.ParamStore
	last string
}

func (m *memStore) SaveRun(ctx context.Context, runID string, params *db.ParamStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]*db.ParamStore{}
	}
	m.runs[runID], m.last = params, runID
	return nil
}

func (m *memStore) LoadRun(ctx context.Context, runID string) (*db.ParamStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.runs[runID]
	if !ok {
		return nil, db.ErrRunNotFound
	}
	return p, nil
}

func (m *memStore) LatestRun(ctx context.Context) (string, *db.ParamStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == "" {
		return "", nil, db.ErrRunNotFound
	}
	return m.last, m.runs[m.last], nil
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"deribit", "live", "stored"} {
		src, err := ParseSource(s)
		require.NoError(t, err)
		require.Equal(t, Source(s), src)
	}
	_, err := ParseSource("recal")
	require.Error(t, err)
}

func TestInitialLive(t *testing.T) {
	cfg := testConfig(t)
	store := &memStore{}

	run, err := Initial(context.Background(), cfg, SourceDeribit, "", fakeSource{testSnapshot(t)}, store, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.Store.Dir, label), run.Dir)
	require.Equal(t, []float64{tauDec}, run.Report.Succeeded)
	require.Empty(t, run.Report.Failed)

	// the snapshot and parameter file land side by side
	saved, err := data.LoadSnapshot(cfg.Store.Dir, label)
	require.NoError(t, err)
	require.Len(t, saved.Options, len(run.Snapshot.Options))

	params, err := db.LoadParamStore(filepath.Join(run.Dir, db.ParamsFile))
	require.NoError(t, err)
	require.Equal(t, run.Params.Records(), params.Records())
	require.Equal(t, "0", params.Records()[0].Key)

	runID, persisted, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, run.Report.RunID.String(), runID)
	require.Equal(t, run.Params, persisted)

	p, err := params.FindByMaturity(tauDec, db.DefaultTolerance)
	require.NoError(t, err)
	for _, x := range []float64{-0.1, 0, 0.1} {
		got, err := p.Vol(x)
		require.NoError(t, err)
		want, err := shape.Vol(x)
		require.NoError(t, err)
		require.InDelta(t, want, got, 1e-3)
	}
}

func TestInitialStoredAndCalcOnly(t *testing.T) {
	cfg := testConfig(t)
	_, err := data.SaveSnapshot(cfg.Store.Dir, testSnapshot(t))
	require.NoError(t, err)

	run, err := Initial(context.Background(), cfg, SourceStored, label, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, run.Params.Len())

	v, err := CalcOnly(cfg, label, tauDec, 33000, zerolog.Nop())
	require.NoError(t, err)
	require.InDelta(t, 30000, v.Forward, 1e-6)
	require.InDelta(t, math.Log(1.1), v.Moneyness, 1e-12)
	want, err := shape.Vol(math.Log(1.1))
	require.NoError(t, err)
	require.InDelta(t, want, v.Vol, 1e-3)

	_, err = CalcOnly(cfg, label, 0.0027888, 90000, zerolog.Nop())
	require.ErrorIs(t, err, db.ErrMaturityNotFound)
}

func TestInitialErrors(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	_, err := Initial(ctx, cfg, SourceLive, "", nil, nil, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = Initial(ctx, cfg, SourceStored, "not-a-stamp", nil, nil, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = Initial(ctx, cfg, SourceStored, "20230101_000000", nil, nil, nil, zerolog.Nop())
	require.Error(t, err)

	snap := testSnapshot(t)
	snap.Futures = nil
	_, err = Initial(ctx, cfg, SourceDeribit, "", fakeSource{snap}, nil, nil, zerolog.Nop())
	require.ErrorIs(t, err, data.ErrNoForwardCurve)
}

func TestCalcVol(t *testing.T) {
	params := db.FromParams([]svi.Params{shape})
	curve := data.RateCurve{Spot: 30000, Tau: []float64{tauDec}, Rates: []float64{0.05}}

	v, err := CalcVol(params, curve, tauDec, 30000, db.DefaultTolerance)
	require.NoError(t, err)
	require.InDelta(t, 30000*math.Exp(0.05*tauDec), v.Forward, 1e-8)
	require.InDelta(t, -0.05*tauDec, v.Moneyness, 1e-12)
	want, err := shape.Vol(v.Moneyness)
	require.NoError(t, err)
	require.Equal(t, want, v.Vol)

	_, err = CalcVol(params, curve, tauDec+1e-6, 30000, db.DefaultTolerance)
	require.ErrorIs(t, err, db.ErrMaturityNotFound)

	_, err = CalcVol(params, curve, tauDec, 0, db.DefaultTolerance)
	require.Error(t, err)
}

func TestLoadParams(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	_, err := LoadParams(ctx, cfg, "", nil)
	require.Error(t, err)

	store := &memStore{}
	want := db.FromParams([]svi.Params{shape})
	require.NoError(t, store.SaveRun(ctx, "run", want))
	got, err := LoadParams(ctx, cfg, "", store)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = LoadParams(ctx, cfg, "bad", store)
	require.Error(t, err)
}

func TestServe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	cfg := testConfig(t)
	cfg.Server.Address = address
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, cfg, db.FromParams([]svi.Params{shape}), zerolog.Nop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + address + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		require.FailNow(t, "server did not shut down")
	}
}
