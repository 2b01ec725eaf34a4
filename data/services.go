package data

import (
	"fmt"
	"math"
	"time"
)

// ImpliedVolatilityService backs out a Black implied volatility from a
// discounted option price.
type ImpliedVolatilityService interface {
	ImpliedVolFromPrice(price, forward, strike, rate, tau float64, option string) (float64, error)
}

// DayCountService converts a pair of dates into a year fraction.
type DayCountService interface {
	YearFraction(start, end time.Time) float64
}

// BlackService inverts the Black-76 formula numerically.
type BlackService struct{}

func (BlackService) ImpliedVolFromPrice(price, forward, strike, rate, tau float64, option string) (float64, error) {
	option, err := normaliseType(option)
	if err != nil {
		return 0, err
	}
	if !(forward > 0 && strike > 0 && tau > 0) {
		return 0, fmt.Errorf("%w: forward %g, strike %g, tau %g", ErrNoImpliedVol, forward, strike, tau)
	}
	df := math.Exp(-rate * tau)
	lower, upper := df*math.Max(forward-strike, 0), df*forward
	if option == Put {
		lower, upper = df*math.Max(strike-forward, 0), df*strike
	}
	if !(price > lower && price < upper) {
		return 0, fmt.Errorf("%w: %g outside (%g, %g)", ErrNoImpliedVol, price, lower, upper)
	}
	return fit(price, forward, strike, tau, rate, option)
}

// Price returns the Black-76 price of an option.
func (BlackService) Price(forward, strike, sigma, rate, tau float64, option string) (float64, error) {
	option, err := normaliseType(option)
	if err != nil {
		return 0, err
	}
	return black(forward, strike, sigma, tau, rate, option), nil
}
