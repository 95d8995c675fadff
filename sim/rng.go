package sim

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// Every miner owns a private *rand.Rand so that one miner's stochastic events
// (thermal noise, hashrate jitter, share arrivals, pool flaps) never perturb
// another miner's stream. Seeds are derived, not stored: the same master seed,
// miner id, and creation time always reproduce the same stream.
//
// Derivation formula: masterSeed XOR fnv1a64(minerID) XOR creationNanos.
// Creation nanos come from the fleet's injected Clock, so tests that fix the
// clock get bit-reproducible miners.

// MinerSeed derives the deterministic seed for one miner's RNG stream.
func MinerSeed(masterSeed int64, minerID string, creationNanos int64) int64 {
	return masterSeed ^ fnv1a64(minerID) ^ creationNanos
}

// NewMinerRNG creates the seeded stream for one miner.
// Not thread-safe; the per-miner lock serializes all access.
func NewMinerRNG(masterSeed int64, minerID string, creationNanos int64) *rand.Rand {
	return rand.New(rand.NewSource(MinerSeed(masterSeed, minerID, creationNanos)))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// SamplePoisson draws from Poisson(lambda) using Knuth's product method.
// Returns 0 for non-positive lambda. The number of underlying uniform draws
// depends only on lambda and the stream position, which keeps replays exact.
func SamplePoisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	bound := math.Exp(-lambda)
	k := 0
	p := 1.0
	for p > bound {
		k++
		p *= rng.Float64()
	}
	return k - 1
}

// SampleExponential draws from Exp with the given mean.
func SampleExponential(rng *rand.Rand, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return rng.ExpFloat64() * mean
}

// SampleUniform draws uniformly from [lo, hi); it returns lo when hi <= lo.
func SampleUniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

// SampleGauss draws from N(0, sigma). Returns 0 when sigma is non-positive so
// noise-free scenarios consume no stream entropy for disabled noise terms.
func SampleGauss(rng *rand.Rand, sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return rng.NormFloat64() * sigma
}
