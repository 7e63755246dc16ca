// Package solver provides the adaptive explicit Runge-Kutta integrator that
// drives the compartmental model. It implements ports.Integrator with the
// Dormand-Prince 5(4) pair: fifth-order solution, embedded fourth-order
// error estimate, first-same-as-last stage reuse.
package solver

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/ports"
)

// Dormand-Prince tableau.
var (
	dpA = [7][6]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
		{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	}
	dpC = [7]float64{0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1, 1}
	// Difference between the fifth- and fourth-order weights.
	dpE = [7]float64{71.0 / 57600.0, 0, -71.0 / 16695.0, 71.0 / 1920.0, -17253.0 / 339200.0, 22.0 / 525.0, -1.0 / 40.0}
)

// RK45 integrates with adaptive internal steps. The zero value is not
// usable; construct with New.
type RK45 struct {
	RTol     float64
	ATol     float64
	MaxStep  float64 // largest internal step, guards NPI day boundaries
	MaxSteps int     // accepted+rejected step budget per Integrate call
}

// New returns an integrator with the conventional loose tolerances. Tighten
// RTol/ATol on the returned value when the caller needs conservation-grade
// accuracy.
func New() *RK45 {
	return &RK45{RTol: 1e-3, ATol: 1e-6, MaxStep: 1.0, MaxSteps: 1 << 20}
}

// Integrate solves x' = f(t, x) from from to to, emitting one row per
// checkpoint. Internal steps never cross a checkpoint, so emitted rows are
// exact solver states, not interpolants.
func (rk *RK45) Integrate(ctx context.Context, f ports.Derivative, x0 []float64, from, to float64, checkpoints []float64) ([][]float64, error) {
	if len(x0) == 0 {
		return nil, fmt.Errorf("%w: empty state vector", core.ErrMalformedInput)
	}
	if to <= from {
		return nil, fmt.Errorf("%w: integration span [%g, %g]", core.ErrMalformedInput, from, to)
	}
	prev := math.Inf(-1)
	for _, cp := range checkpoints {
		if cp < from || cp > to || cp <= prev && cp != from {
			return nil, fmt.Errorf("%w: checkpoints must increase within [%g, %g]", core.ErrMalformedInput, from, to)
		}
		prev = cp
	}

	n := len(x0)
	y := append([]float64(nil), x0...)
	ynew := make([]float64, n)
	ytmp := make([]float64, n)
	yerr := make([]float64, n)
	var k [7][]float64
	for i := range k {
		k[i] = make([]float64, n)
	}

	t := from
	f(t, y, k[0])
	h := rk.initialStep(f, t, y, k[0], ytmp, ynew)

	rows := make([][]float64, 0, len(checkpoints))
	steps := 0
	for _, cp := range checkpoints {
		for cp-t > 1e-12 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if steps++; steps > rk.MaxSteps {
				return nil, fmt.Errorf("%w: step budget exhausted at t=%g", core.ErrTrialInvalid, t)
			}
			if h > rk.MaxStep {
				h = rk.MaxStep
			}
			nominal := h
			clipped := false
			if t+h > cp {
				h = cp - t
				clipped = true
			}
			if h < 1e-12 {
				return nil, fmt.Errorf("%w: step size underflow at t=%g", core.ErrTrialInvalid, t)
			}

			// Stages 2..7; stage 7 evaluates at the candidate solution.
			for s := 1; s < 7; s++ {
				copy(ytmp, y)
				for j := 0; j < s; j++ {
					if a := dpA[s][j]; a != 0 {
						floats.AddScaled(ytmp, h*a, k[j])
					}
				}
				if s == 6 {
					copy(ynew, ytmp)
				}
				f(t+dpC[s]*h, ytmp, k[s])
			}
			for i := range yerr {
				yerr[i] = 0
			}
			for s := 0; s < 7; s++ {
				if e := dpE[s]; e != 0 {
					floats.AddScaled(yerr, h*e, k[s])
				}
			}

			errNorm := rk.errorNorm(y, ynew, yerr)
			if errNorm <= 1 {
				t += h
				y, ynew = ynew, y
				copy(k[0], k[6]) // first-same-as-last
				if clipped {
					h = nominal
				} else {
					h *= stepFactor(errNorm)
				}
			} else {
				h *= stepFactor(errNorm)
			}
		}
		rows = append(rows, append([]float64(nil), y...))
	}
	return rows, nil
}

// errorNorm is the RMS of the error scaled by atol + rtol*|y|; values <= 1
// accept the step.
func (rk *RK45) errorNorm(y, ynew, yerr []float64) float64 {
	var sum float64
	for i, e := range yerr {
		scale := rk.ATol + rk.RTol*math.Max(math.Abs(y[i]), math.Abs(ynew[i]))
		r := e / scale
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(yerr)))
}

// stepFactor turns an error norm into a bounded step-size multiplier.
func stepFactor(errNorm float64) float64 {
	if errNorm == 0 {
		return 5
	}
	fac := 0.9 * math.Pow(errNorm, -0.2)
	if fac > 5 {
		return 5
	}
	if fac < 0.2 {
		return 0.2
	}
	return fac
}

// initialStep picks a starting step from the scale of the state and its
// derivative, then refines it with one Euler probe.
func (rk *RK45) initialStep(f func(t float64, x, dst []float64), t0 float64, y0, f0, ytmp, ftmp []float64) float64 {
	var d0, d1 float64
	for i := range y0 {
		scale := rk.ATol + rk.RTol*math.Abs(y0[i])
		r0 := y0[i] / scale
		r1 := f0[i] / scale
		d0 += r0 * r0
		d1 += r1 * r1
	}
	n := float64(len(y0))
	d0, d1 = math.Sqrt(d0/n), math.Sqrt(d1/n)

	var h0 float64
	if d0 < 1e-5 || d1 < 1e-5 {
		h0 = 1e-6
	} else {
		h0 = 0.01 * d0 / d1
	}

	copy(ytmp, y0)
	floats.AddScaled(ytmp, h0, f0)
	f(t0+h0, ytmp, ftmp)
	var d2 float64
	for i := range y0 {
		scale := rk.ATol + rk.RTol*math.Abs(y0[i])
		r := (ftmp[i] - f0[i]) / scale
		d2 += r * r
	}
	d2 = math.Sqrt(d2/n) / h0

	var h1 float64
	if math.Max(d1, d2) <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/math.Max(d1, d2), 0.2)
	}
	h := math.Min(100*h0, h1)
	if h > rk.MaxStep {
		h = rk.MaxStep
	}
	return h
}
