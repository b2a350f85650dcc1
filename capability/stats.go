package capability

import (
	"sync"
)

// Counts is a point-in-time snapshot of one capability's rolling counters.
type Counts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Total returns the total number of recorded calls.
func (c Counts) Total() int { return c.Success + c.Failure }

// Stats tracks rolling success/failure counters per capability. It is the
// only mutable state shared across concurrent invocations, so all updates
// are serialized behind a mutex. Construct one per composition root rather
// than sharing a process-wide singleton; tests get isolated instances.
type Stats struct {
	mu     sync.Mutex
	counts map[string]*Counts
}

// NewStats constructs an empty counter set.
func NewStats() *Stats {
	return &Stats{counts: make(map[string]*Counts)}
}

// RecordSuccess increments the success counter for the named capability.
func (s *Stats) RecordSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(name).Success++
}

// RecordFailure increments the failure counter for the named capability.
func (s *Stats) RecordFailure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(name).Failure++
}

// SuccessRate returns the fraction of successful calls for the named
// capability, or 1.0 when no calls have been recorded yet.
func (s *Stats) SuccessRate(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(name)
	if c.Total() == 0 {
		return 1.0
	}
	return float64(c.Success) / float64(c.Total())
}

// Snapshot returns a copy of all counters keyed by capability name.
func (s *Stats) Snapshot() map[string]Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counts, len(s.counts))
	for name, c := range s.counts {
		out[name] = *c
	}
	return out
}

// get returns the counter for name; caller must hold the lock.
func (s *Stats) get(name string) *Counts {
	c, ok := s.counts[name]
	if !ok {
		c = &Counts{}
		s.counts[name] = c
	}
	return c
}
