package data

import (
	"fmt"
	"time"

	"github.com/banachtech/svi-surface/svi"
)

const (
	Call = "call"
	Put  = "put"
)

// envelope is the JSON-RPC style wrapper of every Deribit response.
type envelope[T any] struct {
	Result T         `json:"result"`
	Error  *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("deribit: %d %s", e.Code, e.Message)
}

type IndexPrice struct {
	IndexPrice float64 `json:"index_price"`
}

type Instrument struct {
	InstrumentName      string  `json:"instrument_name"`
	Kind                string  `json:"kind"`
	ExpirationTimestamp int64   `json:"expiration_timestamp"`
	Strike              float64 `json:"strike"`
	OptionType          string  `json:"option_type"`
}

type OrderBook struct {
	InstrumentName  string  `json:"instrument_name"`
	LastPrice       float64 `json:"last_price"`
	MarkPrice       float64 `json:"mark_price"`
	IndexPrice      float64 `json:"index_price"`
	UnderlyingPrice float64 `json:"underlying_price"`
	MarkIV          float64 `json:"mark_iv"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// OptionQuote is one raw option of a snapshot. MarkPrice is quoted in units
// of the underlying, ImpliedVol as a fraction.
type OptionQuote struct {
	Type       string
	Strike     float64
	Expiration int64
	ImpliedVol float64
	MarkPrice  float64
	Spot       float64
	T0         time.Time
}

// FutureQuote is one raw dated or perpetual future of a snapshot.
type FutureQuote struct {
	Instrument string
	Expiration int64
	LastPrice  float64
	MarkPrice  float64
	IndexPrice float64
	Spot       float64
	T0         time.Time
}

// Snapshot is the market state captured at T0.
type Snapshot struct {
	Label   string
	T0      time.Time
	Spot    float64
	Options []OptionQuote
	Futures []FutureQuote
}

// Quote is a cleaned out-of-the-money option ready for calibration.
type Quote struct {
	Type      string
	Strike    float64
	Expiry    time.Time
	Tau       float64
	Forward   float64
	Moneyness float64
	Vol       float64
}

// Observation reduces q to the calibration input.
func (q Quote) Observation() svi.Observation {
	return svi.Observation{Moneyness: q.Moneyness, Vol: q.Vol, Tau: q.Tau}
}
