package models

import "fmt"

// validManagerTransitions maps a player handle state to its allowed successors
var validManagerTransitions = map[ManagerState]map[ManagerState]bool{
	ManagerUninitialized: {
		ManagerInitializing: true, // first load or initialize
	},
	ManagerInitializing: {
		ManagerInitializing:  true, // construction superseded by a newer item
		ManagerReady:         true, // widget reported ready
		ManagerUninitialized: true, // teardown or stalled construction
	},
	ManagerReady: {
		ManagerLoading:       true, // in-place item swap
		ManagerInitializing:  true, // rebuild, widget cannot swap in place
		ManagerUninitialized: true, // teardown
	},
	ManagerLoading: {
		ManagerLoading:       true, // swap superseded by a newer item
		ManagerReady:         true, // widget reported the new item ready
		ManagerInitializing:  true, // in-place swap failed, rebuild
		ManagerUninitialized: true, // teardown
	},
}

// ValidateManagerTransition checks if a player handle transition is valid
func ValidateManagerTransition(from, to ManagerState) error {
	allowed, exists := validManagerTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// validPhaseTransitions maps a session phase to its allowed successors.
// Restarting always passes through Idle.
var validPhaseTransitions = map[Phase]map[Phase]bool{
	PhaseIdle: {
		PhasePlaying: true, // session started
	},
	PhasePlaying: {
		PhaseBlackout: true, // canonical stop reached in advanced level
		PhaseComplete: true, // last counted item stopped
		PhaseIdle:     true, // restart or navigation away
	},
	PhaseBlackout: {
		PhasePlaying:  true, // answered during countdown or countdown expired
		PhaseComplete: true, // countdown expired on the last counted item
		PhaseIdle:     true, // restart or navigation away
	},
	PhaseComplete: {
		PhaseIdle: true, // restart or navigation away
	},
}

// ValidatePhaseTransition checks if a session phase transition is valid
func ValidatePhaseTransition(from, to Phase) error {
	allowed, exists := validPhaseTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source phase: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsActive reports whether a session is running in this phase
func (p Phase) IsActive() bool {
	return p == PhasePlaying || p == PhaseBlackout
}
