package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/banachtech/svi-surface/data"
	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/mainfuncs"
	"github.com/banachtech/svi-surface/util"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("svi")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "svi",
		Short:         "Calibrate and query SVI implied volatility surfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (defaults apply when empty)")

	initialCmd := &cobra.Command{
		Use:   "initial",
		Short: "Calibrate every maturity of a snapshot",
		Long:  "Fetches a Deribit snapshot (or loads a stored one), fits one SVI slice per maturity and writes svi_param_initial.json next to the snapshot",
		RunE:  runInitial,
	}
	initialCmd.Flags().String("source", "deribit", "Snapshot source (deribit|live|stored)")
	initialCmd.Flags().String("timestamp", "", "Stored snapshot label yyyymmdd_hhmmss")
	initialCmd.Flags().String("bsthres", "", "Black delta threshold in [0,1] (config default when empty)")

	calcCmd := &cobra.Command{
		Use:   "calconly",
		Short: "Evaluate a stored slice at one strike",
		RunE:  runCalcOnly,
	}
	calcCmd.Flags().String("timestamp", "", "Snapshot label yyyymmdd_hhmmss")
	calcCmd.Flags().Float64("tau", 0.0027888, "Maturity in years, matched exactly")
	calcCmd.Flags().Float64("strike", 90000, "Strike")
	_ = calcCmd.MarkFlagRequired("timestamp")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over a calibration run",
		RunE:  runServe,
	}
	serveCmd.Flags().String("timestamp", "", "Snapshot label; the latest database run when empty")

	root.AddCommand(initialCmd, calcCmd, serveCmd)
	return root
}

func setup(cmd *cobra.Command) (util.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := util.LoadConfig(path)
	if err != nil {
		return util.Config{}, log.Logger, err
	}
	logger, err := util.NewLogger(cfg.Log)
	if err != nil {
		return util.Config{}, log.Logger, err
	}
	return *cfg, logger, nil
}

// openStore connects to Postgres when a database url is configured.
func openStore(ctx context.Context, cfg util.Config) (db.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil
	}
	conn, err := db.Connect(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := db.NewStore(conn)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func parseThreshold(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bsthres %q is not a number", s)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("bsthres %g must be in [0,1]", v)
	}
	return v, nil
}

func runInitial(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sourceFlag, _ := cmd.Flags().GetString("source")
	timestamp, _ := cmd.Flags().GetString("timestamp")
	threshold, _ := cmd.Flags().GetString("bsthres")

	source, err := mainfuncs.ParseSource(sourceFlag)
	if err != nil {
		return err
	}
	if source == mainfuncs.SourceStored && timestamp == "" {
		return fmt.Errorf("--timestamp is required with --source stored")
	}
	if threshold != "" {
		if cfg.Calibration.DeltaThreshold, err = parseThreshold(threshold); err != nil {
			return err
		}
	}

	var fetcher mainfuncs.Snapshotter
	if source != mainfuncs.SourceStored {
		client := data.NewDeribitClient(cfg.Deribit, logger)
		client.Progress = os.Stderr
		fetcher = client
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	run, err := mainfuncs.Initial(ctx, cfg, source, timestamp, fetcher, store, os.Stderr, logger)
	if err != nil {
		return err
	}
	logger.Info().Str("run_id", run.Report.RunID.String()).Str("dir", run.Dir).
		Int("succeeded", len(run.Report.Succeeded)).Int("failed", len(run.Report.Failed)).Msg("initial calibration done")
	return nil
}

func runCalcOnly(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	timestamp, _ := cmd.Flags().GetString("timestamp")
	tau, _ := cmd.Flags().GetFloat64("tau")
	strike, _ := cmd.Flags().GetFloat64("strike")

	v, err := mainfuncs.CalcOnly(cfg, timestamp, tau, strike, logger)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timestamp, _ := cmd.Flags().GetString("timestamp")
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	params, err := mainfuncs.LoadParams(ctx, cfg, timestamp, store)
	if err != nil {
		return err
	}
	return mainfuncs.Serve(ctx, cfg, params, logger)
}
