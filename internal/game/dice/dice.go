// Package dice provides the randomness abstraction used by combat, harvesting,
// and death resolution.
package dice

import (
	"fmt"
	"sync"
)

// Source is the randomness provider for all rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// Roll records one bounded roll for auditing.
//
// Invariant: Min <= Value <= Max.
type Roll struct {
	Purpose string
	Min     int
	Max     int
	Value   int
}

// String returns "purpose [min,max] = value".
func (r Roll) String() string {
	return fmt.Sprintf("%s [%d,%d] = %d", r.Purpose, r.Min, r.Max, r.Value)
}

// Fixed is a Source that replays Values in order, wrapping around. Each value
// is reduced modulo n. Intended for tests.
type Fixed struct {
	mu     sync.Mutex
	Values []int
	next   int
}

// Intn implements Source.
func (f *Fixed) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.next%len(f.Values)]
	f.next++
	return ((v % n) + n) % n
}
