package core

import "github.com/prometheus/client_golang/prometheus"

// State is the supervisor lifecycle phase. Transitions are one-way:
// Initializing -> Running -> Draining -> Stopped, with failure paths
// jumping straight to Stopped.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var allStates = []State{StateInitializing, StateRunning, StateDraining, StateStopped}

var stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "caretaker_supervisor_state",
	Help: "Current supervisor lifecycle phase (1 for the active state).",
}, []string{"state"})

func init() {
	prometheus.MustRegister(stateGauge)
}

func observeState(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		stateGauge.WithLabelValues(st.String()).Set(v)
	}
}
