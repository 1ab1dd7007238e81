package simengine

import "math/rand/v2"

// seedStream is the fixed PCG stream selector; only the seed varies between runs.
const seedStream = 0x9e3779b97f4a7c15

// RNG is a seeded stream of draws in [0,1). Two RNGs built from the same
// seed and driven by the same call pattern produce identical output.
type RNG struct {
	src *rand.Rand
}

func NewRNG(seed int64) *RNG {
	return &RNG{src: rand.New(rand.NewPCG(uint64(seed), seedStream))}
}

// Float64 consumes one draw.
func (r *RNG) Float64() float64 {
	return r.src.Float64()
}

// Index consumes one draw and maps it uniformly onto [0, n). It returns -1
// when n is not positive.
func (r *RNG) Index(n int) int {
	v := r.Float64()
	if n <= 0 {
		return -1
	}
	i := int(v * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Chance consumes one draw and reports whether it fell below p.
func (r *RNG) Chance(p float64) bool {
	return r.Float64() < p
}

// Jitter consumes one draw and returns a value in [-scale/2, scale/2).
func (r *RNG) Jitter(scale float64) float64 {
	return (r.Float64() - 0.5) * scale
}

// Status draws ok/warn/alarm with weights 70/20/10.
func (r *RNG) Status() Status {
	v := r.Float64()
	switch {
	case v < 0.7:
		return StatusOK
	case v < 0.9:
		return StatusWarn
	default:
		return StatusAlarm
	}
}

// Pick returns a uniformly chosen element, or the zero value for an empty
// slice. It always consumes exactly one draw.
func Pick[T any](r *RNG, items []T) T {
	var zero T
	i := r.Index(len(items))
	if i < 0 {
		return zero
	}
	return items[i]
}
