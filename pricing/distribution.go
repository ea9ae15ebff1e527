package pricing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// DefaultIntegrationStep is the dx used when integrating payoffs.
	DefaultIntegrationStep = 0.05
	// DefaultMomentStep is the dx used for Mean and StdDev.
	DefaultMomentStep = 0.1
	// MaxIntegrationPoints caps the number of steps over a domain.
	MaxIntegrationPoints = 2000
)

// ErrInvalidDomain is returned for empty or non-finite domains.
var ErrInvalidDomain = errors.New("distribution domain must satisfy low < high")

// Distribution is a price density over the finite domain [Low, High).
// PDF need not integrate to exactly one over the domain.
type Distribution struct {
	PDF  func(x float64) float64
	Low  float64
	High float64
}

// NewDistribution validates the domain.
func NewDistribution(pdf func(float64) float64, low, high float64) (Distribution, error) {
	if pdf == nil {
		return Distribution{}, errors.New("pdf is required")
	}
	if !(low < high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return Distribution{}, fmt.Errorf("%w: [%v, %v)", ErrInvalidDomain, low, high)
	}
	return Distribution{PDF: pdf, Low: low, High: high}, nil
}

// NewNormal is a normal density centred on center, truncated to [low, high).
func NewNormal(center, std, low, high float64) (Distribution, error) {
	if !(std > 0) {
		return Distribution{}, fmt.Errorf("standard deviation must be positive, got %v", std)
	}
	n := distuv.Normal{Mu: center, Sigma: std}
	return NewDistribution(n.Prob, low, high)
}

// NormalAround is NewNormal over center +/- width standard deviations,
// with the lower bound floored at zero.
func NormalAround(center, std, width float64) (Distribution, error) {
	return NewNormal(center, std, math.Max(center-width*std, 0), center+width*std)
}

// Step returns dx, coarsened so that the domain spans at most
// MaxIntegrationPoints steps. Integration cost then does not grow with the
// price level.
func (d Distribution) Step(dx float64) float64 {
	if dx <= 0 {
		dx = DefaultIntegrationStep
	}
	return math.Max(dx, (d.High-d.Low)/MaxIntegrationPoints)
}

// Mean is the first moment over the domain.
func (d Distribution) Mean() float64 {
	return RiemannSum(func(x float64) float64 { return d.PDF(x) * x }, d.Low, d.High, d.Step(DefaultMomentStep))
}

// StdDev is the square root of the second central moment over the domain.
func (d Distribution) StdDev() float64 {
	mean := d.Mean()
	variance := RiemannSum(func(x float64) float64 {
		return (x - mean) * (x - mean) * d.PDF(x)
	}, d.Low, d.High, d.Step(DefaultMomentStep))
	return math.Sqrt(variance)
}

// RiemannSum is the left Riemann sum of f over [low, high) with step dx.
func RiemannSum(f func(float64) float64, low, high, dx float64) float64 {
	if dx <= 0 {
		dx = DefaultIntegrationStep
	}
	n := int(math.Ceil((high - low) / dx))
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += f(low+float64(i)*dx) * dx
	}
	return sum
}

// Integrate returns the expectation of f under d: sum P(x) f(x) dx. dx is
// passed through Step.
func Integrate(d Distribution, f func(float64) float64, dx float64) float64 {
	return RiemannSum(func(x float64) float64 { return d.PDF(x) * f(x) }, d.Low, d.High, d.Step(dx))
}
