package scheduler

import "time"

// JobState is one job's scheduling view for the status endpoint.
type JobState struct {
	ID       string    `json:"id"`
	Trigger  string    `json:"trigger"`
	Next     time.Time `json:"next,omitzero"`
	InFlight bool      `json:"in_flight"`
	Disabled bool      `json:"disabled,omitempty"`
}

// Snapshot returns per-job state in schedule order.
func (s *Scheduler) Snapshot() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		out = append(out, JobState{
			ID:       e.spec.ID,
			Trigger:  e.spec.RawTrigger,
			Next:     e.next,
			InFlight: e.inFlight,
			Disabled: e.disabled,
		})
	}
	return out
}
