package core

import (
	"hash/fnv"
	"math/rand/v2"
)

// SeedSequence derives statistically independent child seeds from a single
// base seed using spawn-sequence semantics: the same (base, index) pair
// always yields the same child seed, and distinct indices always yield
// distinct seeds, independent of spawn order or parallelism.
type SeedSequence struct {
	base uint64
}

// NewSeedSequence creates a seed sequence rooted at base.
func NewSeedSequence(base uint64) *SeedSequence {
	return &SeedSequence{base: base}
}

// seedGamma is the odd golden-ratio increment used by splitmix-style
// generators; oddness makes i -> base + i*seedGamma injective mod 2^64.
const seedGamma = 0x9e3779b97f4a7c15

// Spawn returns the child seed for spawn index i. mix64 is a bijection on
// uint64, so distinct indices can never collide.
func (s *SeedSequence) Spawn(i uint64) uint64 {
	return mix64(s.base + i*seedGamma)
}

// Stream builds a deterministic generator for one seed. PCG keeps trials
// reproducible bit-for-bit across runs and worker counts.
func Stream(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, mix64(seed)))
}

// SubSeed derives a named sub-seed so that draws for one concern (mobility
// perturbation, parameter redraw, ...) stay stable even if another concern
// changes how many values it consumes.
func SubSeed(seed uint64, label string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(label))
	return mix64(seed ^ h.Sum64())
}

// mix64 is the splitmix64 finalizer (Steele, Lea, Flood 2014).
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
