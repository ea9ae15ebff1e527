// Package pricing values option contracts with the Black-Scholes model and
// integrates payoffs over price probability distributions.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kind selects the payoff.
type Kind string

const (
	Call Kind = "call"
	Put  Kind = "put"
)

const (
	daysPerYear = 365.0

	// DefaultDeltaAccuracy is the bump used by NumericDelta.
	DefaultDeltaAccuracy = 0.01

	quotePlaces = 4
)

// YearFraction returns the ACT/365 year fraction between two instants.
func YearFraction(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / daysPerYear
}

// Intrinsic is the exercise value of the option at spot.
func Intrinsic(kind Kind, spot, strike float64) float64 {
	if kind == Put {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

func d1d2(spot, strike, t, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// BlackScholes returns the theoretical value of a European option.
// t is in years. Expired contracts (t <= 0) and non-positive spot are
// worth their intrinsic value; zero volatility gives the discounted payoff.
func BlackScholes(kind Kind, spot, strike, t, r, sigma float64) float64 {
	if t <= 0 || spot <= 0 {
		return Intrinsic(kind, spot, strike)
	}
	if sigma <= 0 {
		return Intrinsic(kind, spot, strike*math.Exp(-r*t))
	}

	d1, d2 := d1d2(spot, strike, t, r, sigma)
	df := math.Exp(-r * t)
	n := distuv.UnitNormal
	if kind == Put {
		return n.CDF(-d2)*strike*df - n.CDF(-d1)*spot
	}
	return n.CDF(d1)*spot - n.CDF(d2)*strike*df
}

// NumericDelta is the central-difference sensitivity of value to price.
func NumericDelta(value func(price float64) float64, price, accuracy float64) float64 {
	if accuracy <= 0 {
		accuracy = DefaultDeltaAccuracy
	}
	return (value(price+0.5*accuracy) - value(price-0.5*accuracy)) / accuracy
}

// QuoteResult is a priced contract with its Greeks. Theta is per year,
// vega and rho per unit change of volatility and rate.
type QuoteResult struct {
	Kind       Kind            `json:"kind"`
	Spot       float64         `json:"spot"`
	Strike     float64         `json:"strike"`
	Years      float64         `json:"years"`
	Rate       float64         `json:"rate"`
	Volatility float64         `json:"volatility"`
	Price      decimal.Decimal `json:"price"`
	Intrinsic  decimal.Decimal `json:"intrinsic"`
	Delta      decimal.Decimal `json:"delta"`
	Gamma      decimal.Decimal `json:"gamma"`
	Theta      decimal.Decimal `json:"theta"`
	Vega       decimal.Decimal `json:"vega"`
	Rho        decimal.Decimal `json:"rho"`
}

func round(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(quotePlaces)
}

// Quote prices the contract and computes the analytic Greeks. Greeks of
// an expired or zero-volatility contract are those of its payoff.
func Quote(kind Kind, spot, strike, t, r, sigma float64) QuoteResult {
	q := QuoteResult{
		Kind:       kind,
		Spot:       spot,
		Strike:     strike,
		Years:      t,
		Rate:       r,
		Volatility: sigma,
		Price:      round(BlackScholes(kind, spot, strike, t, r, sigma)),
		Intrinsic:  round(Intrinsic(kind, spot, strike)),
	}

	if t <= 0 || sigma <= 0 || spot <= 0 {
		k := strike
		if t > 0 {
			k = strike * math.Exp(-r*t)
		}
		delta := 0.0
		switch {
		case kind == Call && spot > k:
			delta = 1
		case kind == Put && spot < k:
			delta = -1
		}
		q.Delta = round(delta)
		return q
	}

	d1, d2 := d1d2(spot, strike, t, r, sigma)
	n := distuv.UnitNormal
	sqrtT := math.Sqrt(t)
	df := math.Exp(-r * t)
	pdf := n.Prob(d1)

	gamma := pdf / (spot * sigma * sqrtT)
	vega := spot * pdf * sqrtT
	var delta, theta, rho float64
	if kind == Put {
		delta = n.CDF(d1) - 1
		theta = -spot*pdf*sigma/(2*sqrtT) + r*strike*df*n.CDF(-d2)
		rho = -strike * t * df * n.CDF(-d2)
	} else {
		delta = n.CDF(d1)
		theta = -spot*pdf*sigma/(2*sqrtT) - r*strike*df*n.CDF(d2)
		rho = strike * t * df * n.CDF(d2)
	}

	q.Delta = round(delta)
	q.Gamma = round(gamma)
	q.Theta = round(theta)
	q.Vega = round(vega)
	q.Rho = round(rho)
	return q
}
