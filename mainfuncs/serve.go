package mainfuncs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/banachtech/svi-surface/api"
	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/util"
)

// LoadParams reads the parameter file of the run at timestamp or, without
// one, the latest run in store.
func LoadParams(ctx context.Context, cfg util.Config, timestamp string, store db.Store) (*db.ParamStore, error) {
	if timestamp != "" {
		if _, err := util.ParseStamp(timestamp); err != nil {
			return nil, err
		}
		return db.LoadParamStore(filepath.Join(cfg.Store.Dir, timestamp, db.ParamsFile))
	}
	if store == nil {
		return nil, errors.New("either a timestamp or a database url is required")
	}
	_, params, err := store.LatestRun(ctx)
	return params, err
}

// Serve runs the query API until ctx is cancelled.
func Serve(ctx context.Context, cfg util.Config, params *db.ParamStore, log zerolog.Logger) error {
	server := api.NewServer(cfg.Server, cfg.Store.MaturityTolerance, params, log)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Int("slices", params.Len()).Msg("serving")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
