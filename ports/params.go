package ports

import (
	"math/rand/v2"

	"github.com/lshin-apl/bucky/domain/epi"
)

// ParameterSource produces parameter sets from a prior specification.
type ParameterSource interface {
	// Draw samples a complete fresh set from the priors using the given
	// stream. Repeated calls with identical stream state yield identical
	// sets.
	Draw(rng *rand.Rand) (*epi.Params, error)

	// Mean returns the prior means, used by the one-time calibration phase
	// that precedes the trial loop.
	Mean() (*epi.Params, error)
}
