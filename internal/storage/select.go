package storage

import "sync"

// Selector swaps the active provider when the auth state changes while
// consumers keep a stable accessor. Consumers hold Current, never a
// concrete provider.
type Selector struct {
	mu     sync.RWMutex
	active Provider
}

func NewSelector(initial Provider) *Selector {
	return &Selector{active: initial}
}

// Use swaps the active provider.
func (s *Selector) Use(p Provider) {
	s.mu.Lock()
	s.active = p
	s.mu.Unlock()
}

// Current returns the active provider.
func (s *Selector) Current() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}
