package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/banachtech/svi-surface/util"
)

// DeribitClient polls the public Deribit REST API. Requests are paced by a
// token bucket and guarded by a circuit breaker.
type DeribitClient struct {
	cfg      util.DeribitConfig
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
	token    string
	Progress io.Writer
}

func NewDeribitClient(cfg util.DeribitConfig, log zerolog.Logger) *DeribitClient {
	st := gobreaker.Settings{
		Name:     "deribit",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	return &DeribitClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log.With().Str("component", "deribit").Logger(),
	}
}

func call[DataType IndexPrice | []Instrument | OrderBook | Token](ctx context.Context, c *DeribitClient, method string, params url.Values) (DataType, error) {
	var zero DataType
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return getDeribit[DataType](ctx, c.client, c.cfg.BaseURL, method, params, c.token)
	})
	if err != nil {
		return zero, err
	}
	return out.(DataType), nil
}

// Authenticate exchanges client credentials for an access token. It is a
// no-op when no credentials are configured.
func (c *DeribitClient) Authenticate(ctx context.Context) error {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return nil
	}
	tok, err := call[Token](ctx, c, "auth", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	c.token = tok.AccessToken
	c.log.Info().Int("expires_in", tok.ExpiresIn).Msg("authenticated")
	return nil
}

// IndexPrice returns the spot index of the configured currency.
func (c *DeribitClient) IndexPrice(ctx context.Context) (float64, error) {
	idx, err := call[IndexPrice](ctx, c, "get_index_price", url.Values{
		"index_name": {strings.ToLower(c.cfg.Currency) + "_usd"},
	})
	if err != nil {
		return 0, err
	}
	return idx.IndexPrice, nil
}

// Instruments lists the live instruments of one kind, sorted by expiration.
func (c *DeribitClient) Instruments(ctx context.Context, kind string) ([]Instrument, error) {
	ins, err := call[[]Instrument](ctx, c, "get_instruments", url.Values{
		"currency": {c.cfg.Currency},
		"kind":     {kind},
		"expired":  {"false"},
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ins, func(i, j int) bool { return ins[i].ExpirationTimestamp < ins[j].ExpirationTimestamp })
	return ins, nil
}

func (c *DeribitClient) OrderBook(ctx context.Context, name string) (OrderBook, error) {
	return call[OrderBook](ctx, c, "get_order_book", url.Values{"instrument_name": {name}})
}

// orderBooks fetches one book per instrument concurrently, preserving order.
func (c *DeribitClient) orderBooks(ctx context.Context, ins []Instrument, description string) ([]OrderBook, error) {
	type result struct {
		i    int
		book OrderBook
		err  error
	}
	ch := make(chan result, len(ins))
	bar := progressBar(len(ins), c.Progress, description)

	for j := range ins {
		go func(i int, name string) {
			book, err := c.OrderBook(ctx, name)
			ch <- result{i: i, book: book, err: err}
		}(j, ins[j].InstrumentName)
	}

	books := make([]OrderBook, len(ins))
	var firstErr error
	for range ins {
		r := <-ch
		bar.Add(1)
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("order book %s: %w", ins[r.i].InstrumentName, r.err)
			}
			continue
		}
		books[r.i] = r.book
	}
	bar.Finish()
	if firstErr != nil {
		return nil, firstErr
	}
	return books, nil
}

// Futures returns every live future with its last, mark and index price.
func (c *DeribitClient) Futures(ctx context.Context, spot float64, t0 time.Time) ([]FutureQuote, error) {
	ins, err := c.Instruments(ctx, "future")
	if err != nil {
		return nil, err
	}
	books, err := c.orderBooks(ctx, ins, "futures")
	if err != nil {
		return nil, err
	}
	out := make([]FutureQuote, len(ins))
	for i := range ins {
		out[i] = FutureQuote{
			Instrument: ins[i].InstrumentName,
			Expiration: ins[i].ExpirationTimestamp,
			LastPrice:  books[i].LastPrice,
			MarkPrice:  books[i].MarkPrice,
			IndexPrice: books[i].IndexPrice,
			Spot:       spot,
			T0:         t0,
		}
	}
	return out, nil
}

// Options returns every live option with its mark implied volatility as a fraction.
func (c *DeribitClient) Options(ctx context.Context, spot float64, t0 time.Time) ([]OptionQuote, error) {
	ins, err := c.Instruments(ctx, "option")
	if err != nil {
		return nil, err
	}
	books, err := c.orderBooks(ctx, ins, "options")
	if err != nil {
		return nil, err
	}
	out := make([]OptionQuote, len(ins))
	for i := range ins {
		out[i] = OptionQuote{
			Type:       ins[i].OptionType,
			Strike:     ins[i].Strike,
			Expiration: ins[i].ExpirationTimestamp,
			ImpliedVol: books[i].MarkIV / 100,
			MarkPrice:  books[i].MarkPrice,
			Spot:       spot,
			T0:         t0,
		}
	}
	return out, nil
}

// Snapshot captures spot, futures and options at the current instant.
func (c *DeribitClient) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := c.Authenticate(ctx); err != nil {
		return Snapshot{}, err
	}
	t0 := time.Now().UTC()
	spot, err := c.IndexPrice(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	c.log.Info().Str("currency", c.cfg.Currency).Float64("spot", spot).Msg("index price")

	futures, err := c.Futures(ctx, spot, t0)
	if err != nil {
		return Snapshot{}, err
	}
	options, err := c.Options(ctx, spot, t0)
	if err != nil {
		return Snapshot{}, err
	}
	c.log.Info().Int("futures", len(futures)).Int("options", len(options)).Msg("snapshot retrieved")
	return Snapshot{Label: util.Stamp(t0), T0: t0, Spot: spot, Options: options, Futures: futures}, nil
}
