// Package portfolio values weighted combinations of options and equity on a
// single underlying and searches for the combination with the best expected
// return.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/pricing"
)

// LegType is the instrument a leg holds.
type LegType string

const (
	LegCall   LegType = "call"
	LegPut    LegType = "put"
	LegEquity LegType = "equity"
)

var ErrInvalidLegType = errors.New("leg type must be call, put or equity")

// ParseLegType accepts call, put or equity. Option shorthands are parsed
// the same way as catalog security types.
func ParseLegType(s string) (LegType, error) {
	if st, err := securities.ParseSecurityType(s); err == nil {
		return LegType(st), nil
	}
	switch s {
	case "equity", "EQUITY", "stock", "EQ":
		return LegEquity, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLegType, s)
}

func (t LegType) IsOption() bool {
	return t == LegCall || t == LegPut
}

// Leg is one weighted position. Strike and Expiry are unused for equity.
type Leg struct {
	Type   LegType   `json:"type"`
	Ticker string    `json:"ticker"`
	Strike float64   `json:"strike,omitempty"`
	Expiry time.Time `json:"expiry,omitempty"`
	Weight float64   `json:"weight"`
}

// OptionLeg builds a leg from a catalog security, keeping its weight.
func OptionLeg(sec securities.Security) Leg {
	return Leg{
		Type:   LegType(sec.SecurityType),
		Ticker: sec.Ticker,
		Strike: sec.Strike,
		Expiry: sec.Expiry.Time,
		Weight: sec.Weight,
	}
}

// EquityLeg holds weight units of the underlying.
func EquityLeg(ticker string, weight float64) Leg {
	return Leg{Type: LegEquity, Ticker: ticker, Weight: weight}
}

func (l Leg) kind() pricing.Kind {
	if l.Type == LegPut {
		return pricing.Put
	}
	return pricing.Call
}

// Value is the unweighted value of the leg when the underlying trades at
// price on the given date.
func (l Leg) Value(price float64, at time.Time, r, sigma float64) float64 {
	if !l.Type.IsOption() {
		return price
	}
	return pricing.BlackScholes(l.kind(), price, l.Strike, pricing.YearFraction(at, l.Expiry), r, sigma)
}

// ExpectedValue is Value weighted by the price distribution of the
// underlying on the given date.
func (l Leg) ExpectedValue(dist pricing.Distribution, at time.Time, r, sigma float64) float64 {
	return pricing.Integrate(dist, func(p float64) float64 {
		return l.Value(p, at, r, sigma)
	}, pricing.DefaultIntegrationStep)
}

// Delta is the sensitivity of Value to the underlying price.
func (l Leg) Delta(price float64, at time.Time, r, sigma float64) float64 {
	if !l.Type.IsOption() {
		return 1
	}
	return pricing.NumericDelta(func(p float64) float64 {
		return l.Value(p, at, r, sigma)
	}, price, pricing.DefaultDeltaAccuracy)
}

func (l Leg) String() string {
	if !l.Type.IsOption() {
		return fmt.Sprintf("%s equity x%g", l.Ticker, l.Weight)
	}
	return fmt.Sprintf("%s %s %g exp %s x%g", l.Ticker, l.Type, l.Strike, l.Expiry.Format("2006-01-02"), l.Weight)
}
