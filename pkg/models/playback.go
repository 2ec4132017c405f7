package models

import "fmt"

// PlaybackState mirrors the state codes reported by embedded video widgets.
type PlaybackState int

const (
	StateUnknown   PlaybackState = -2
	StateUnstarted PlaybackState = -1
	StateEnded     PlaybackState = 0
	StatePlaying   PlaybackState = 1
	StatePaused    PlaybackState = 2
	StateBuffering PlaybackState = 3
	StateCued      PlaybackState = 5
)

func (s PlaybackState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateEnded:
		return "ended"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateCued:
		return "cued"
	default:
		return "unknown"
	}
}

// StatusText is the label shown to learners next to the player
func (s PlaybackState) StatusText() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateEnded:
		return "Ended"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateBuffering:
		return "Buffering"
	case StateCued:
		return "Video Cued"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name
func (s PlaybackState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *PlaybackState) UnmarshalText(text []byte) error {
	state, err := ParsePlaybackState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ParsePlaybackState converts a state name into a PlaybackState
func ParsePlaybackState(name string) (PlaybackState, error) {
	for _, s := range []PlaybackState{StateUnknown, StateUnstarted, StateEnded, StatePlaying, StatePaused, StateBuffering, StateCued} {
		if s.String() == name {
			return s, nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown playback state: %s", name)
}

// PlaybackStateFromCode maps a raw widget code, unknown codes map to StateUnknown
func PlaybackStateFromCode(code int) PlaybackState {
	switch s := PlaybackState(code); s {
	case StateUnstarted, StateEnded, StatePlaying, StatePaused, StateBuffering, StateCued:
		return s
	default:
		return StateUnknown
	}
}

// ManagerState is the lifecycle state of a player handle
type ManagerState string

const (
	ManagerUninitialized ManagerState = "uninitialized"
	ManagerInitializing  ManagerState = "initializing"
	ManagerReady         ManagerState = "ready"
	ManagerLoading       ManagerState = "loading"
)

// Phase is the session state
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePlaying  Phase = "playing"
	PhaseBlackout Phase = "blackout"
	PhaseComplete Phase = "complete"
)
