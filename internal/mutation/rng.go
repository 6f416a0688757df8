package mutation

import (
	"math/rand"
	"sync"
	"time"
)

// rng is a mutex-guarded random source. Mutators share instances across
// goroutines, and a bare *rand.Rand is not safe for that.
type rng struct {
	mu sync.Mutex
	r  *rand.Rand
}

// newRNG seeds a source. Seed 0 selects a time-based seed; any other value
// gives a reproducible stream.
func newRNG(seed int64) *rng {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &rng{r: rand.New(rand.NewSource(seed))}
}

func (g *rng) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Float64()
}

func (g *rng) NormFloat64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.NormFloat64()
}

func (g *rng) Intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Intn(n)
}

func (g *rng) Perm(n int) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Perm(n)
}

// clampFloat64 limits v to [min, max].
func clampFloat64(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
