package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/optiondesk/optiondesk/pricing"
)

var (
	ErrZeroCost      = errors.New("portfolio costs nothing today")
	ErrNoVolatility  = errors.New("no volatility samples")
	ErrInvalidWindow = errors.New("horizon must be after today")
)

// Scenario describes the market the portfolio is evaluated in: today's spot
// price and the expected price distribution at the horizon.
type Scenario struct {
	Ticker       string
	Spot         float64
	Today        time.Time
	Horizon      time.Time
	Distribution pricing.Distribution
	Volatility   float64
	Rate         float64
}

func (s Scenario) Validate() error {
	if !(s.Spot > 0) {
		return fmt.Errorf("spot must be positive, got %v", s.Spot)
	}
	if !s.Horizon.After(s.Today) {
		return ErrInvalidWindow
	}
	if !(s.Volatility > 0) {
		return fmt.Errorf("volatility must be positive, got %v", s.Volatility)
	}
	if s.Distribution.PDF == nil {
		return errors.New("scenario has no price distribution")
	}
	return nil
}

// HorizonDays is the number of days from Today to Horizon.
func (s Scenario) HorizonDays() float64 {
	return daysBetween(s.Today, s.Horizon)
}

// ROI is (expected value at the horizon - cost today) / cost today.
func (p Portfolio) ROI(s Scenario) (float64, error) {
	cost := p.Cost(s.Spot, s.Today, s.Volatility)
	if cost == 0 || math.IsNaN(cost) {
		return 0, ErrZeroCost
	}
	value := p.Value(s.Distribution, s.Horizon, s.Volatility)
	return (value - cost) / cost, nil
}

// ROI evaluates a serialized portfolio in the scenario.
func ROI(params []float64, types []LegType, s Scenario) (float64, error) {
	p, err := Deserialize(params, types, s.Ticker, s.Today, s.Rate)
	if err != nil {
		return 0, err
	}
	return p.ROI(s)
}

// AverageVolatility is the mean of the finite, positive implied volatility
// samples.
func AverageVolatility(vols []float64) (float64, error) {
	samples := make([]float64, 0, len(vols))
	for _, v := range vols {
		if v > 0 && !math.IsInf(v, 0) {
			samples = append(samples, v)
		}
	}
	if len(samples) == 0 {
		return 0, ErrNoVolatility
	}
	return stat.Mean(samples, nil), nil
}
