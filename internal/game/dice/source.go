package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const pcgStream = 0x9e3779b97f4a7c15

// entropy is a math/rand/v2 source that draws every value from crypto/rand.
type entropy struct{}

// Uint64 panics with "dice: crypto/rand failure: <err>" if crypto/rand fails.
func (entropy) Uint64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// rngSource adapts a *rand.Rand, which is not safe for concurrent use, to Source.
type rngSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &rngSource{rng: rand.New(entropy{})}
}

// NewSeededSource returns a deterministic Source seeded with seed.
//
// Postcondition: two sources with the same seed yield the same sequence.
func NewSeededSource(seed uint64) Source {
	return &rngSource{rng: rand.New(rand.NewPCG(seed, seed^pcgStream))}
}

// Intn implements Source.
//
// Precondition: n > 0. Panics with "dice: Intn called with n <= 0" if n <= 0.
func (s *rngSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
