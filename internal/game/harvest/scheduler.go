package harvest

import (
	"sync"
	"time"
)

// Scheduler fires keyed callbacks after a delay unless cancelled. Scheduling
// a key that is already pending replaces the earlier callback. It is safe for
// concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	running sync.WaitGroup
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Schedule arranges for onFire to run in its own goroutine after delay.
//
// Precondition: onFire must not be nil.
// Postcondition: returns false without scheduling if the Scheduler is stopped.
func (s *Scheduler) Schedule(key string, delay time.Duration, onFire func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.timers[key]
		if s.stopped || !ok || current != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		onFire()
	})
	s.timers[key] = t
	return true
}

// Cancel prevents the callback for key from firing.
//
// Postcondition: returns true if a pending callback was cancelled.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, key)
	return true
}

// Pending returns the number of callbacks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending callback, refuses new ones, and waits for
// callbacks already running to return. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.running.Wait()
}
