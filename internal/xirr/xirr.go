// Package xirr finds the annualized rate of return of irregularly dated cash flows.
package xirr

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/holdings/internal/domain"
)

const daysPerYear = 365.0

type config struct {
	guess    float64
	maxIter  int
	tol      float64
	low      float64
	high     float64
	bisectIt int
}

// Option tunes the solver.
type Option func(*config)

// WithInitialGuess sets the Newton-Raphson starting rate.
func WithInitialGuess(r float64) Option { return func(c *config) { c.guess = r } }

// WithMaxIterations caps the Newton-Raphson iterations.
func WithMaxIterations(n int) Option { return func(c *config) { c.maxIter = n } }

// WithTolerance sets the convergence tolerance on the rate.
func WithTolerance(tol float64) Option { return func(c *config) { c.tol = tol } }

// WithBracket sets the interval searched by the bisection fallback.
func WithBracket(low, high float64) Option {
	return func(c *config) { c.low, c.high = low, high }
}

func defaults() config {
	return config{
		guess:    0.1,
		maxIter:  100,
		tol:      1e-7,
		low:      -0.9999,
		high:     10,
		bisectIt: 200,
	}
}

// flow is a cash flow reduced to what the NPV function needs.
type flow struct {
	years  float64
	amount float64
}

// Solve returns r such that Σ amount_i / (1+r)^(days_i/365) = 0, where the terminal
// value (the current market value) is appended as the last flow.
//
// It fails with ErrDegenerateInput when flows are empty, dates are not strictly
// increasing, the terminal predates the last flow, or there is not at least one
// negative and one positive flow. ErrNonConvergent means neither Newton-Raphson nor
// the bracketing fallback found a root: the return is unknown, not zero.
func Solve(flows []domain.CashFlow, terminal domain.CashFlow, opts ...Option) (float64, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	series, err := withTerminal(flows, terminal)
	if err != nil {
		return 0, err
	}

	hasNeg := lo.SomeBy(series, func(f domain.CashFlow) bool { return f.Amount.IsNegative() })
	hasPos := lo.SomeBy(series, func(f domain.CashFlow) bool { return f.Amount.IsPositive() })
	if !hasNeg || !hasPos {
		return 0, fmt.Errorf("%w: need at least one outflow and one inflow", domain.ErrDegenerateInput)
	}

	base := series[0].Date
	fs := lo.Map(series, func(f domain.CashFlow, _ int) flow {
		return flow{
			years:  f.Date.Sub(base).Hours() / 24 / daysPerYear,
			amount: f.Amount.Amount().InexactFloat64(),
		}
	})

	if r, ok := newton(fs, cfg); ok {
		return r, nil
	}
	if r, ok := bisect(fs, cfg); ok {
		return r, nil
	}
	return 0, fmt.Errorf("%w: no sign change in [%g, %g]", domain.ErrNonConvergent, cfg.low, cfg.high)
}

// withTerminal validates the series and appends the terminal value, merging it into
// the last flow when both fall on the same day.
func withTerminal(flows []domain.CashFlow, terminal domain.CashFlow) ([]domain.CashFlow, error) {
	if len(flows) == 0 {
		return nil, fmt.Errorf("%w: no cash flows", domain.ErrDegenerateInput)
	}
	for i := 1; i < len(flows); i++ {
		if !flows[i].Date.After(flows[i-1].Date) {
			return nil, fmt.Errorf("%w: dates not strictly increasing at %s",
				domain.ErrDegenerateInput, flows[i].Date.Format(time.DateOnly))
		}
	}

	series := append([]domain.CashFlow(nil), flows...)
	if terminal.Amount.IsZero() {
		return series, nil
	}
	last := &series[len(series)-1]
	switch {
	case terminal.Date.Before(last.Date):
		return nil, fmt.Errorf("%w: terminal value dated %s before last flow %s", domain.ErrDegenerateInput,
			terminal.Date.Format(time.DateOnly), last.Date.Format(time.DateOnly))
	case terminal.Date.Equal(last.Date):
		last.Amount = last.Amount.Add(terminal.Amount)
	default:
		series = append(series, terminal)
	}
	return series, nil
}

func npv(fs []flow, r float64) (value, derivative float64) {
	base := 1 + r
	for _, f := range fs {
		discount := math.Pow(base, f.years)
		value += f.amount / discount
		derivative -= f.years * f.amount / (discount * base)
	}
	return value, derivative
}

// newton runs Newton-Raphson and reports whether it converged inside the domain r > -1.
func newton(fs []flow, cfg config) (float64, bool) {
	r := cfg.guess
	for range cfg.maxIter {
		v, d := npv(fs, r)
		if d == 0 || math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, false
		}
		next := r - v/d
		if next <= -1 || math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, false
		}
		if math.Abs(next-r) < cfg.tol {
			return next, true
		}
		r = next
	}
	return 0, false
}

// bisect searches the configured bracket for a sign change of the NPV.
func bisect(fs []flow, cfg config) (float64, bool) {
	low, high := cfg.low, cfg.high
	vLo, _ := npv(fs, low)
	vHi, _ := npv(fs, high)
	if math.IsNaN(vLo) || math.IsNaN(vHi) || vLo*vHi > 0 {
		return 0, false
	}
	if vLo == 0 {
		return low, true
	}
	if vHi == 0 {
		return high, true
	}

	for range cfg.bisectIt {
		mid := (low + high) / 2
		vMid, _ := npv(fs, mid)
		if vMid == 0 || (high-low)/2 < cfg.tol {
			return mid, true
		}
		if (vMid < 0) == (vLo < 0) {
			low, vLo = mid, vMid
		} else {
			high = mid
		}
	}
	return (low + high) / 2, true
}
