package ports

import "context"

// Derivative evaluates dx/dt at time t into dst. Implementations must be
// pure in (t, x): the solver probes repeated and out-of-order times.
type Derivative func(t float64, x []float64, dst []float64)

// Integrator advances an ODE system with adaptive internal stepping.
type Integrator interface {
	// Integrate solves x' = f(t, x) from from to to and returns one state
	// row per checkpoint. Checkpoints must be increasing and lie within
	// [from, to]; the first row corresponds to checkpoints[0].
	Integrate(ctx context.Context, f Derivative, x0 []float64, from, to float64, checkpoints []float64) ([][]float64, error)
}
