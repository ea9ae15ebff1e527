package portfolio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/optimize"
)

const (
	DefaultRestarts       = 20
	MaxRestarts           = 200
	DefaultWorkers        = 8
	DefaultMaxEvaluations = 2000

	// infeasible is returned by the objective for portfolios that cannot be
	// evaluated, e.g. ones that cost nothing.
	infeasible = 1e12
)

var (
	ErrEmptyPortfolio      = errors.New("portfolio has no legs")
	ErrNoFeasiblePortfolio = errors.New("no starting portfolio could be evaluated")
)

// Bound is an inclusive parameter range.
type Bound struct {
	Low  float64
	High float64
}

func (b Bound) clamp(x float64) float64 {
	return math.Min(math.Max(x, b.Low), b.High)
}

// Bounds returns the search range of each serialized parameter. Option
// weights lie in [-1, 1], strikes in [0.1, 10] times spot and expiries in
// [1, 20] times the horizon in days. Equity weights lie in [0, 1].
func Bounds(types []LegType, spot, horizonDays float64) []Bound {
	out := make([]Bound, 0, paramCount(types))
	for _, t := range types {
		if t.IsOption() {
			out = append(out,
				Bound{-1, 1},
				Bound{0.1 * spot, 10 * spot},
				Bound{horizonDays, 20 * horizonDays},
			)
			continue
		}
		out = append(out, Bound{0, 1})
	}
	return out
}

// The optimizer works in the unit cube so that one simplex size fits every
// parameter.
func normalize(x []float64, bounds []Bound) []float64 {
	u := make([]float64, len(x))
	for i, b := range bounds {
		if b.High == b.Low {
			continue
		}
		u[i] = (b.clamp(x[i]) - b.Low) / (b.High - b.Low)
	}
	return u
}

func denormalize(u []float64, bounds []Bound) []float64 {
	x := make([]float64, len(u))
	for i, b := range bounds {
		t := math.Min(math.Max(u[i], 0), 1)
		x[i] = b.Low + t*(b.High-b.Low)
	}
	return x
}

// Options tunes Optimize. Zero values select the defaults.
type Options struct {
	// Restarts is the number of random starting portfolios tried in
	// addition to the one passed to Optimize, at most MaxRestarts.
	Restarts       int
	Workers        int
	MaxEvaluations int
	Seed           uint64
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Restarts <= 0 {
		o.Restarts = DefaultRestarts
	}
	o.Restarts = min(o.Restarts, MaxRestarts)
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxEvaluations <= 0 {
		o.MaxEvaluations = DefaultMaxEvaluations
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Result is the best portfolio found.
type Result struct {
	Portfolio   Portfolio `json:"portfolio"`
	ROI         float64   `json:"roi"`
	Starts      int       `json:"starts"`
	Evaluations int       `json:"evaluations"`
}

type run struct {
	x     []float64
	f     float64
	evals int
}

// Optimize searches for the legs of the same types as p that maximize ROI
// in the scenario. The search starts from p and from opts.Restarts random
// portfolios, runs Nelder-Mead from each on a bounded worker pool and keeps
// the best result.
func Optimize(ctx context.Context, p Portfolio, s Scenario, opts Options) (Result, error) {
	if len(p.Legs) == 0 {
		return Result{}, ErrEmptyPortfolio
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()
	s.Rate = p.Rate

	params, types := p.Serialize(s.Today)
	bounds := Bounds(types, s.Spot, s.HorizonDays())

	rng := rand.New(rand.NewPCG(opts.Seed, uint64(len(params))))
	starts := [][]float64{params}
	for i := 0; i < opts.Restarts; i++ {
		starts = append(starts, randomStart(rng, types, bounds, s))
	}

	g, gctx := errgroup.WithContext(ctx)
	objective := func(u []float64) float64 {
		if gctx.Err() != nil {
			return infeasible
		}
		roi, err := ROI(denormalize(u, bounds), types, s)
		if err != nil || math.IsNaN(roi) || math.IsInf(roi, 0) {
			return infeasible
		}
		return -roi
	}

	runs := make([]run, len(starts))
	g.SetLimit(opts.Workers)
	for i, start := range starts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := minimize(gctx, objective, normalize(start, bounds), opts.MaxEvaluations)
			if err != nil {
				return err
			}
			runs[i] = r
			opts.Logger.Debug("Optimizer run finished", "start", i, "roi", -r.f, "evaluations", r.evals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("optimize portfolio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("optimize portfolio: %w", err)
	}

	best := run{f: math.Inf(1)}
	evals := 0
	for _, r := range runs {
		evals += r.evals
		if r.f < best.f {
			best = r
		}
	}
	if best.f >= infeasible {
		return Result{}, ErrNoFeasiblePortfolio
	}

	out, err := Deserialize(denormalize(best.x, bounds), types, s.Ticker, s.Today, p.Rate)
	if err != nil {
		return Result{}, err
	}
	opts.Logger.Info("Portfolio optimized", "ticker", s.Ticker, "roi", -best.f, "starts", len(starts), "evaluations", evals)
	return Result{Portfolio: out, ROI: -best.f, Starts: len(starts), Evaluations: evals}, nil
}

// minimize runs one Nelder-Mead search and returns the better of the start
// and the optimum it reached.
func minimize(ctx context.Context, f func([]float64) float64, u0 []float64, maxEvals int) (run, error) {
	if err := ctx.Err(); err != nil {
		return run{}, err
	}
	initial := run{x: u0, f: f(u0), evals: 1}

	problem := optimize.Problem{
		Func: f,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 50,
		},
	}

	res, err := optimize.Minimize(problem, u0, settings, &optimize.NelderMead{SimplexSize: 0.1})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return run{}, ctxErr
	}
	if res == nil {
		if err != nil {
			return run{}, err
		}
		return initial, nil
	}
	if res.F < initial.f {
		return run{x: res.X, f: res.F, evals: res.FuncEvaluations + 1}, nil
	}
	initial.evals += res.FuncEvaluations
	return initial, nil
}

func randomStart(rng *rand.Rand, types []LegType, bounds []Bound, s Scenario) []float64 {
	x := make([]float64, 0, len(bounds))
	strikeRange := Bound{s.Distribution.Low, s.Distribution.High}
	for _, t := range types {
		i := len(x)
		if t.IsOption() {
			strike := bounds[i+1].clamp(uniform(rng, strikeRange))
			x = append(x, uniform(rng, bounds[i]), strike, uniform(rng, bounds[i+2]))
			continue
		}
		x = append(x, uniform(rng, bounds[i]))
	}
	return x
}

func uniform(rng *rand.Rand, b Bound) float64 {
	return b.Low + rng.Float64()*(b.High-b.Low)
}
