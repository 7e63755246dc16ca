// Package sampling implements the bounded random primitives behind
// ports.Sampler on top of gonum's distribution library. All draws go
// through inverse CDFs so exactly one uniform is consumed per sample and
// sequences stay reproducible under a fixed seed.
package sampling

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler is stateless; streams are passed per call.
type Sampler struct{}

// New returns the distuv-backed sampler.
func New() *Sampler { return &Sampler{} }

// Uniform draws from [lo, hi).
func (*Sampler) Uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// TruncNormal draws from Normal(mean, sd) truncated to [lo, hi] by mapping a
// uniform into the CDF mass between the bounds. Degenerate inputs collapse
// to the clamped mean.
func (*Sampler) TruncNormal(rng *rand.Rand, mean, sd, lo, hi float64) float64 {
	if sd <= 0 {
		return clamp(mean, lo, hi)
	}
	n := distuv.Normal{Mu: mean, Sigma: sd}
	cLo, cHi := n.CDF(lo), n.CDF(hi)
	if !(cHi > cLo) {
		return clamp(mean, lo, hi)
	}
	u := cLo + rng.Float64()*(cHi-cLo)
	return clamp(n.Quantile(u), lo, hi)
}

// BoundedMode draws from a modified-PERT distribution on [lo, hi]: a Beta
// with alpha = 1 + shape*(mode-lo)/(hi-lo) and beta = 1 + shape*(hi-mode)/
// (hi-lo), stretched back onto the interval. A collapsed interval returns
// the mode.
func (*Sampler) BoundedMode(rng *rand.Rand, lo, mode, hi, shape float64) float64 {
	span := hi - lo
	if !(span > 0) {
		return mode
	}
	mode = clamp(mode, lo, hi)
	b := distuv.Beta{
		Alpha: 1 + shape*(mode-lo)/span,
		Beta:  1 + shape*(hi-mode)/span,
	}
	return lo + span*b.Quantile(rng.Float64())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
