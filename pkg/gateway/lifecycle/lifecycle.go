// Package lifecycle tracks the gateway's drain state so handlers can refuse
// new chat connections during shutdown while readiness flips unhealthy.
package lifecycle

import "sync/atomic"

type State struct {
	draining atomic.Bool
}

func New() *State {
	return &State{}
}

// StartDrain marks the gateway as shutting down. Idempotent.
func (s *State) StartDrain() {
	if s != nil {
		s.draining.Store(true)
	}
}

func (s *State) Draining() bool {
	return s != nil && s.draining.Load()
}
