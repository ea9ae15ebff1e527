package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/pricing"
)

var ErrParamMismatch = errors.New("parameter vector does not match leg types")

// Portfolio is a set of weighted legs valued at a common risk-free rate.
type Portfolio struct {
	Legs []Leg   `json:"legs"`
	Rate float64 `json:"rate"`
}

// FromSecurities builds a portfolio of option legs from catalog records.
func FromSecurities(secs []securities.Security, rate float64) Portfolio {
	legs := make([]Leg, 0, len(secs))
	for _, s := range secs {
		legs = append(legs, OptionLeg(s))
	}
	return Portfolio{Legs: legs, Rate: rate}
}

// Value is the probability-weighted value of the portfolio on the given date.
func (p Portfolio) Value(dist pricing.Distribution, at time.Time, sigma float64) float64 {
	total := 0.0
	for _, l := range p.Legs {
		total += l.Weight * l.ExpectedValue(dist, at, p.Rate, sigma)
	}
	return total
}

// Cost is the value of the portfolio with the underlying at price.
func (p Portfolio) Cost(price float64, at time.Time, sigma float64) float64 {
	total := 0.0
	for _, l := range p.Legs {
		total += l.Weight * l.Value(price, at, p.Rate, sigma)
	}
	return total
}

// Delta is the weighted sum of leg deltas.
func (p Portfolio) Delta(price float64, at time.Time, sigma float64) float64 {
	total := 0.0
	for _, l := range p.Legs {
		total += l.Weight * l.Delta(price, at, p.Rate, sigma)
	}
	return total
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

func addDays(t time.Time, days float64) time.Time {
	return t.Add(time.Duration(days * 24 * float64(time.Hour)))
}

// Serialize flattens the portfolio into a parameter vector. Option legs
// contribute (weight, strike, days to expiry from today) and come first,
// equity legs contribute (weight) and follow. types lists the leg types in
// the same order.
func (p Portfolio) Serialize(today time.Time) ([]float64, []LegType) {
	var options, equities []float64
	var optionTypes, equityTypes []LegType
	for _, l := range p.Legs {
		if l.Type.IsOption() {
			options = append(options, l.Weight, l.Strike, daysBetween(today, l.Expiry))
			optionTypes = append(optionTypes, l.Type)
			continue
		}
		equities = append(equities, l.Weight)
		equityTypes = append(equityTypes, LegEquity)
	}
	return append(options, equities...), append(optionTypes, equityTypes...)
}

// Deserialize rebuilds a portfolio from a vector produced by Serialize.
func Deserialize(params []float64, types []LegType, ticker string, today time.Time, rate float64) (Portfolio, error) {
	if want := paramCount(types); want != len(params) {
		return Portfolio{}, fmt.Errorf("%w: %d params for %d slots", ErrParamMismatch, len(params), want)
	}

	legs := make([]Leg, 0, len(types))
	pos := 0
	for _, t := range types {
		switch {
		case t.IsOption():
			legs = append(legs, Leg{
				Type:   t,
				Ticker: ticker,
				Weight: params[pos],
				Strike: params[pos+1],
				Expiry: addDays(today, params[pos+2]),
			})
			pos += 3
		case t == LegEquity:
			legs = append(legs, EquityLeg(ticker, params[pos]))
			pos++
		default:
			return Portfolio{}, fmt.Errorf("%w: %q", ErrInvalidLegType, t)
		}
	}
	return Portfolio{Legs: legs, Rate: rate}, nil
}

func paramCount(types []LegType) int {
	n := 0
	for _, t := range types {
		if t.IsOption() {
			n += 3
		} else {
			n++
		}
	}
	return n
}
