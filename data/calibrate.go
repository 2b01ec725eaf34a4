package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/banachtech/svi-surface/svi"
	"github.com/banachtech/svi-surface/util"
)

var (
	slicesCalibrated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "svi_slices_calibrated_total",
		Help: "Maturity slices calibrated, by outcome.",
	}, []string{"outcome"})
	sliceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "svi_slice_calibration_seconds",
		Help:    "Wall time of one slice calibration.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

// Options controls one surface calibration run.
type Options struct {
	DeltaThreshold  float64
	MinObservations int
	Workers         int
	Settings        svi.Settings
	Progress        io.Writer
}

// OptionsFromConfig maps the calibration section of the config.
func OptionsFromConfig(cfg util.CalibrationConfig) Options {
	o := cfg.Optimizer
	return Options{
		DeltaThreshold:  cfg.DeltaThreshold,
		MinObservations: cfg.MinObservations,
		Workers:         cfg.Workers,
		Settings: svi.Settings{
			MaxIterations:   o.MaxIterations,
			Tolerance:       o.Tolerance,
			StallIterations: o.StallIterations,
			Restarts:        o.Restarts,
			InitialScale:    o.InitialScale,
			InitialCenter:   o.InitialCenter,
			MinScale:        o.MinScale,
			SimplexSize:     o.SimplexSize,
		},
	}
}

// SliceResult is the outcome of one maturity: a fit or the reason there is none.
type SliceResult struct {
	Index        int
	Tau          float64
	Fit          svi.Fit
	Err          error
	Quotes       []Quote
	Observations []svi.Observation
	Excluded     []Quote
}

func (r SliceResult) OK() bool { return r.Err == nil }

// Fitted evaluates the fitted smile at every quote of the maturity,
// including the quotes the delta filter excluded.
func (r SliceResult) Fitted() ([]float64, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]float64, len(r.Quotes))
	for i, q := range r.Quotes {
		v, err := r.Fit.Params.Vol(q.Moneyness)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// RMSE is the root mean squared vol error over the observations the fit used.
func (r SliceResult) RMSE() (float64, error) {
	if r.Err != nil {
		return math.NaN(), r.Err
	}
	sq := make([]float64, len(r.Observations))
	for i, o := range r.Observations {
		v, err := r.Fit.Params.Vol(o.Moneyness)
		if err != nil {
			return math.NaN(), err
		}
		sq[i] = (v - o.Vol) * (v - o.Vol)
	}
	return math.Sqrt(stat.Mean(sq, nil)), nil
}

// Report aggregates a surface run. Slices are ordered by maturity.
type Report struct {
	RunID     uuid.UUID
	Slices    []SliceResult
	Succeeded []float64
	Failed    []float64
}

// Params returns the fitted records of every successful slice.
func (r Report) Params() []svi.Params {
	var out []svi.Params
	for _, s := range r.Slices {
		if s.OK() {
			out = append(out, s.Fit.Params)
		}
	}
	return out
}

// groupByTau splits quotes into maturity slices sorted by strike.
func groupByTau(quotes []Quote) [][]Quote {
	byTau := map[float64][]Quote{}
	for _, q := range quotes {
		byTau[q.Tau] = append(byTau[q.Tau], q)
	}
	taus := make([]float64, 0, len(byTau))
	for t := range byTau {
		taus = append(taus, t)
	}
	sort.Float64s(taus)

	out := make([][]Quote, len(taus))
	for i, t := range taus {
		slice := byTau[t]
		sort.SliceStable(slice, func(a, b int) bool { return slice[a].Strike < slice[b].Strike })
		out[i] = slice
	}
	return out
}

// selectObservations keeps the quotes whose Black delta exceeds threshold.
func selectObservations(quotes []Quote, threshold float64) ([]svi.Observation, []Quote, error) {
	var kept []svi.Observation
	var excluded []Quote
	for _, q := range quotes {
		delta, err := BlackDelta(q.Moneyness, q.Vol, q.Tau, q.Type)
		if err != nil {
			return nil, nil, err
		}
		if delta > threshold {
			kept = append(kept, q.Observation())
		} else {
			excluded = append(excluded, q)
		}
	}
	return kept, excluded, nil
}

func calibrateOne(index int, quotes []Quote, opts Options) SliceResult {
	res := SliceResult{Index: index, Tau: quotes[0].Tau, Quotes: quotes}
	obs, excluded, err := selectObservations(quotes, opts.DeltaThreshold)
	if err != nil {
		res.Err = err
		return res
	}
	res.Observations, res.Excluded = obs, excluded

	need := opts.MinObservations
	if need < svi.MinObservations {
		need = svi.MinObservations
	}
	if len(obs) < need {
		res.Err = fmt.Errorf("%w: %d < %d", svi.ErrUnderdetermined, len(obs), need)
		return res
	}

	start := time.Now()
	res.Fit, res.Err = svi.CalibrateSlice(obs, opts.Settings)
	sliceSeconds.Observe(time.Since(start).Seconds())
	return res
}

// CalibrateSurface fits every maturity of quotes independently, at most
// opts.Workers at a time. A failed slice is recorded in the report and never
// stops the others. The returned error is non-nil only for engine faults or
// cancellation; the report is still populated.
func CalibrateSurface(ctx context.Context, quotes []Quote, opts Options, log zerolog.Logger) (Report, error) {
	slices := groupByTau(quotes)
	report := Report{RunID: uuid.New(), Slices: make([]SliceResult, len(slices))}
	log = log.With().Str("run_id", report.RunID.String()).Logger()

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	bar := progressBar(len(slices), opts.Progress, "slices")
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := range slices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cancelled := SliceResult{Index: i, Tau: slices[i][0].Tau, Quotes: slices[i]}
			if cancelled.Err = ctx.Err(); cancelled.Err != nil {
				report.Slices[i] = cancelled
				return
			}
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				cancelled.Err = ctx.Err()
				report.Slices[i] = cancelled
				return
			}
			report.Slices[i] = calibrateOne(i, slices[i], opts)

			mu.Lock()
			bar.Add(1)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	bar.Finish()

	var fatal []error
	for _, r := range report.Slices {
		if r.OK() {
			p := r.Fit.Params
			rmse, _ := r.RMSE()
			report.Succeeded = append(report.Succeeded, r.Tau)
			slicesCalibrated.WithLabelValues("ok").Inc()
			log.Info().Float64("tau", r.Tau).Float64("S", p.S).Float64("M", p.M).
				Float64("A", p.A).Float64("P", p.P).Float64("B", p.B).
				Float64("cost", r.Fit.Coeffs.Cost).Float64("rmse", rmse).Int("iterations", r.Fit.Iterations).
				Int("observations", len(r.Observations)).Msg("slice calibrated")
			continue
		}
		report.Failed = append(report.Failed, r.Tau)
		slicesCalibrated.WithLabelValues("failed").Inc()
		log.Warn().Float64("tau", r.Tau).Err(r.Err).Int("observations", len(r.Observations)).Msg("slice not calibrated")
		if svi.IsFatal(r.Err) {
			fatal = append(fatal, fmt.Errorf("tau %g: %w", r.Tau, r.Err))
		}
	}
	log.Info().Int("succeeded", len(report.Succeeded)).Int("failed", len(report.Failed)).Msg("surface calibrated")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, errors.Join(fatal...)
}
