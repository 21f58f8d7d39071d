// Package trigger rate-limits sync runs. Each target carries its own
// cooldown window so a burst of change notifications collapses into one
// run per target, and concurrent schedulers share one state object
// instead of global variables.
package trigger

import (
	"sync"
	"time"
)

// DefaultCooldown is how long after a run a target stays quiet.
const DefaultCooldown = 5 * time.Minute

// State tracks the last run time per target. The zero value is not
// usable; construct with NewState.
type State struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastRun  map[string]time.Time
	now      func() time.Time
}

// NewState creates a cooldown tracker. A non-positive cooldown falls back
// to DefaultCooldown. The clock is injectable for tests; nil means
// time.Now.
func NewState(cooldown time.Duration, now func() time.Time) *State {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &State{
		cooldown: cooldown,
		lastRun:  make(map[string]time.Time),
		now:      now,
	}
}

// Allow reports whether the target is outside its cooldown window. A
// target that has never run is always allowed.
func (s *State) Allow(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[target]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= s.cooldown
}

// MarkRan records a completed run for the target, starting its cooldown.
func (s *State) MarkRan(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[target] = s.now()
}

// Remaining returns how much cooldown is left for the target, zero when
// it may run now.
func (s *State) Remaining(target string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[target]
	if !ok {
		return 0
	}
	left := s.cooldown - s.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}
