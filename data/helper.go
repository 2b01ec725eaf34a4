package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrInvalidOptionType is returned for option types other than call or put.
	ErrInvalidOptionType = errors.New("invalid option type")
	// ErrNoImpliedVol is returned when a price lies outside the no-arbitrage bounds.
	ErrNoImpliedVol = errors.New("price has no implied volatility")
)

var stdNormal = distuv.Normal{Mu: 0.0, Sigma: 1.0}

// helper function to get a public method and decode its result envelope
func getDeribit[DataType IndexPrice | []Instrument | OrderBook | Token](ctx context.Context, client *http.Client, base, method string, params url.Values, token string) (result DataType, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+method, nil)
	if err != nil {
		return result, err
	}
	req.URL.RawQuery = params.Encode()
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf(`Bearer %s`, token))
	}

	resp, err := client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	var env envelope[DataType]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return result, fmt.Errorf("%s: decode: %w (status %d)", method, err, resp.StatusCode)
	}
	if env.Error != nil {
		return result, fmt.Errorf("%s: %w", method, env.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}
	return env.Result, nil
}

func normaliseType(option string) (string, error) {
	switch strings.ToLower(option) {
	case Call, "c":
		return Call, nil
	case Put, "p":
		return Put, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOptionType, option)
}

// BlackDelta approximates the forward delta of an option from its
// log-moneyness. Sub-day maturities below 1e-10 are floored to 0.002.
func BlackDelta(moneyness, vol, maturity float64, option string) (float64, error) {
	option, err := normaliseType(option)
	if err != nil {
		return 0, err
	}
	if maturity < 1e-10 {
		maturity = 0.002
	}
	d1 := (-moneyness + 0.5*vol*vol*maturity) / (vol * math.Sqrt(maturity))
	if option == Call {
		return stdNormal.CDF(d1), nil
	}
	return 1 - stdNormal.CDF(d1), nil
}

// black-76 model
func black(f, k, sigma, T, r float64, option string) float64 {
	x := sigma * math.Sqrt(T)
	d1 := (math.Log(f/k) + 0.5*sigma*sigma*T) / x
	d2 := d1 - x

	premium := math.Exp(-r*T) * (f*stdNormal.CDF(d1) - k*stdNormal.CDF(d2))
	if option == Put {
		premium = math.Exp(-r*T) * (k*stdNormal.CDF(-d2) - f*stdNormal.CDF(-d1))
	}
	return premium
}

// price loss function, relative to the forward
func loss(par []float64, p, f, k, T, r float64, option string) float64 {
	sigma := math.Exp(par[0])
	return math.Pow((p-black(f, k, sigma, T, r, option))/f, 2)
}

// fitting the black model
func fit(p, f, k, T, r float64, option string) (float64, error) {
	par := []float64{math.Log(0.5)}
	problem := optimize.Problem{
		Func: func(par []float64) float64 {
			return loss(par, p, f, k, T, r, option)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 1000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-24, Iterations: 50},
	}
	res, err := optimize.Minimize(problem, par, settings, &optimize.NelderMead{})
	if err != nil {
		return 0, err
	}
	return math.Exp(res.X[0]), nil
}

// progress bar initialization
func progressBar(length int, w io.Writer, description string) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}
	bar := progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetVisibility(true),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
	return bar
}
