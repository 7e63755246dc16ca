package ports

import "math/rand/v2"

// Sampler provides the bounded random primitives calibration draws from.
// Every method consumes exactly one value from the stream per call so draw
// sequences stay aligned across runs with the same seed.
type Sampler interface {
	// Uniform draws from [lo, hi).
	Uniform(rng *rand.Rand, lo, hi float64) float64

	// TruncNormal draws from Normal(mean, sd) truncated to [lo, hi] by
	// inverting the CDF, so one uniform always maps to one sample.
	TruncNormal(rng *rand.Rand, mean, sd, lo, hi float64) float64

	// BoundedMode draws from a modified-PERT distribution on [lo, hi] with
	// the given mode and shape. Degenerate bounds return the mode.
	BoundedMode(rng *rand.Rand, lo, mode, hi, shape float64) float64
}
