package mainfuncs

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/banachtech/svi-surface/data"
	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/util"
)

// Source selects where a run takes its market snapshot from.
type Source string

const (
	SourceDeribit Source = "deribit"
	SourceLive    Source = "live"
	SourceStored  Source = "stored"
)

func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceDeribit, SourceLive, SourceStored:
		return src, nil
	}
	return "", fmt.Errorf("unknown source %q: expected deribit, live or stored", s)
}

// Snapshotter captures a market snapshot, e.g. *data.DeribitClient.
type Snapshotter interface {
	Snapshot(ctx context.Context) (data.Snapshot, error)
}

// Run is the outcome of an initial calibration.
type Run struct {
	Dir      string
	Snapshot data.Snapshot
	Report   data.Report
	Params   *db.ParamStore
}

// Initial fetches or loads a snapshot, calibrates every maturity and writes
// the parameter file next to the snapshot. When store is non-nil the run is
// also persisted under its run ID.
func Initial(ctx context.Context, cfg util.Config, src Source, timestamp string, fetcher Snapshotter, store db.Store, progress io.Writer, log zerolog.Logger) (Run, error) {
	var run Run
	switch src {
	case SourceDeribit, SourceLive:
		if fetcher == nil {
			return run, fmt.Errorf("source %s needs a market data client", src)
		}
		snap, err := fetcher.Snapshot(ctx)
		if err != nil {
			return run, fmt.Errorf("fetch snapshot: %w", err)
		}
		if run.Dir, err = data.SaveSnapshot(cfg.Store.Dir, snap); err != nil {
			return run, fmt.Errorf("save snapshot: %w", err)
		}
		run.Snapshot = snap
	case SourceStored:
		snap, err := data.LoadSnapshot(cfg.Store.Dir, timestamp)
		if err != nil {
			return run, fmt.Errorf("load snapshot %s: %w", timestamp, err)
		}
		run.Snapshot = snap
		run.Dir = filepath.Join(cfg.Store.Dir, snap.Label)
	default:
		return run, fmt.Errorf("unknown source %q", src)
	}
	log = log.With().Str("snapshot", run.Snapshot.Label).Logger()

	quotes, _, err := data.NewCleaner().Clean(run.Snapshot)
	if err != nil {
		return run, fmt.Errorf("clean snapshot: %w", err)
	}
	log.Info().Int("quotes", len(quotes)).Msg("snapshot cleaned")

	opts := data.OptionsFromConfig(cfg.Calibration)
	opts.Progress = progress
	run.Report, err = data.CalibrateSurface(ctx, quotes, opts, log)
	if err != nil {
		return run, err
	}

	run.Params = paramsOf(run.Report)
	path := filepath.Join(run.Dir, db.ParamsFile)
	if err := run.Params.Save(path); err != nil {
		return run, fmt.Errorf("save params: %w", err)
	}
	log.Info().Str("path", path).Int("slices", run.Params.Len()).Msg("parameters saved")

	if store != nil {
		runID := run.Report.RunID.String()
		if err := store.SaveRun(ctx, runID, run.Params); err != nil {
			return run, fmt.Errorf("persist run %s: %w", runID, err)
		}
		log.Info().Str("run_id", runID).Msg("run persisted")
	}
	return run, nil
}

// paramsOf keys each fitted slice by its maturity index in the run, so a
// failed maturity leaves a gap rather than shifting later keys.
func paramsOf(report data.Report) *db.ParamStore {
	var records []db.Record
	for _, s := range report.Slices {
		if s.OK() {
			records = append(records, db.Record{Key: strconv.Itoa(s.Index), Params: s.Fit.Params})
		}
	}
	return db.NewParamStore(records...)
}
