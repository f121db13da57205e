package experiment

import "math/rand/v2"

// #region seeds

// splitmix64 is the standard 64-bit finaliser; consecutive inputs map to
// well-spread, uncorrelated outputs.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Seeds derives the PCG (seed, stream) pair for one trial at one grid point.
func Seeds(base uint64, point, trial int) (seed, stream uint64) {
	seed = splitmix64(base ^ splitmix64(uint64(point)<<32|uint64(uint32(trial))))
	stream = splitmix64(seed ^ uint64(point))
	return seed, stream
}

// Rand returns the private generator for (base, point, trial). The same triple
// always yields the same sequence regardless of which worker runs the trial.
func Rand(base uint64, point, trial int) *rand.Rand {
	seed, stream := Seeds(base, point, trial)
	return rand.New(rand.NewPCG(seed, stream))
}

// #endregion seeds
