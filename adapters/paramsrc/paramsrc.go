// Package paramsrc implements the parameter prior source over a JSON prior
// file: each named parameter carries either a fixed value or a bounded
// distribution, scalar or one entry per age bin.
package paramsrc

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/ports"
)

const defaultPERTShape = 4

// prior is one distribution spec. A bare Value pins the parameter; Dist
// selects "uniform" (lo, hi), "truncnorm" (mean, sd, lo, hi) or "pert"
// (lo, mode, hi, shape).
type prior struct {
	Value *float64 `json:"value,omitempty"`
	Dist  string   `json:"dist,omitempty"`
	Lo    float64  `json:"lo,omitempty"`
	Hi    float64  `json:"hi,omitempty"`
	Mean  float64  `json:"mean,omitempty"`
	SD    float64  `json:"sd,omitempty"`
	Mode  float64  `json:"mode,omitempty"`
	Shape float64  `json:"shape,omitempty"`
}

// Source draws parameter sets from a parsed prior file. Draw order is the
// sorted parameter names, so a file edit never silently shifts the random
// stream of unrelated parameters.
type Source struct {
	sampler ports.Sampler
	names   []string
	priors  map[string][]prior
}

// NewSource parses the prior file at path.
func NewSource(path string, sampler ports.Sampler) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priors %s: %w", path, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse priors %s: %v", core.ErrMalformedInput, path, err)
	}

	s := &Source{sampler: sampler, priors: make(map[string][]prior, len(doc))}
	for name, msg := range doc {
		specs, err := parseSpecs(msg)
		if err != nil {
			return nil, fmt.Errorf("%w: prior %q: %v", core.ErrMalformedInput, name, err)
		}
		s.priors[name] = specs
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	// Fail on unknown names and bad shapes at load time, not mid-run.
	if _, err := s.Mean(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseSpecs accepts a scalar, a spec object, an array of scalars or an
// array of spec objects.
func parseSpecs(msg json.RawMessage) ([]prior, error) {
	var v float64
	if err := json.Unmarshal(msg, &v); err == nil {
		return []prior{{Value: &v}}, nil
	}
	var one prior
	if err := json.Unmarshal(msg, &one); err == nil && (one.Value != nil || one.Dist != "") {
		return []prior{one}, nil
	}
	var scalars []float64
	if err := json.Unmarshal(msg, &scalars); err == nil {
		out := make([]prior, len(scalars))
		for i := range scalars {
			x := scalars[i]
			out[i] = prior{Value: &x}
		}
		return out, nil
	}
	var many []prior
	if err := json.Unmarshal(msg, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// Draw samples a fresh parameter set. The age-shaped parameters are set
// first so the scalar assignments can be shape-checked against them.
func (s *Source) Draw(rng *rand.Rand) (*epi.Params, error) {
	return s.build(func(sp prior) (float64, error) { return s.sample(rng, sp) })
}

// Mean returns the prior means used by the one-time calibration phase.
func (s *Source) Mean() (*epi.Params, error) {
	return s.build(meanOf)
}

func (s *Source) build(draw func(prior) (float64, error)) (*epi.Params, error) {
	p := &epi.Params{}
	for _, name := range s.names {
		specs := s.priors[name]
		vals := make([]float64, len(specs))
		for i, sp := range specs {
			v, err := draw(sp)
			if err != nil {
				return nil, fmt.Errorf("%w: prior %q: %v", core.ErrMalformedInput, name, err)
			}
			vals[i] = v
		}
		if err := p.Set(name, vals); err != nil {
			return nil, err
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Source) sample(rng *rand.Rand, sp prior) (float64, error) {
	if sp.Value != nil {
		return *sp.Value, nil
	}
	switch sp.Dist {
	case "uniform":
		return s.sampler.Uniform(rng, sp.Lo, sp.Hi), nil
	case "truncnorm":
		return s.sampler.TruncNormal(rng, sp.Mean, sp.SD, sp.Lo, sp.Hi), nil
	case "pert":
		shape := sp.Shape
		if shape == 0 {
			shape = defaultPERTShape
		}
		return s.sampler.BoundedMode(rng, sp.Lo, sp.Mode, sp.Hi, shape), nil
	}
	return 0, fmt.Errorf("unknown dist %q", sp.Dist)
}

func meanOf(sp prior) (float64, error) {
	if sp.Value != nil {
		return *sp.Value, nil
	}
	switch sp.Dist {
	case "uniform":
		return (sp.Lo + sp.Hi) / 2, nil
	case "truncnorm":
		// Nominal mean; truncation bias is negligible for the narrow
		// bounds the prior files use.
		return sp.Mean, nil
	case "pert":
		shape := sp.Shape
		if shape == 0 {
			shape = defaultPERTShape
		}
		return (sp.Lo + shape*sp.Mode + sp.Hi) / (shape + 2), nil
	}
	return 0, fmt.Errorf("unknown dist %q", sp.Dist)
}
