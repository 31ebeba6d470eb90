// Package playback watches the playback device and drives queue advancement.
package playback

import "github.com/osa030/duet/internal/domain/device"

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No track loaded
	StatePlaying              // Track is playing
	StatePaused               // Track is loaded but not playing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func stateOf(st device.State) State {
	switch {
	case !st.HasTrack():
		return StateIdle
	case st.Playing:
		return StatePlaying
	default:
		return StatePaused
	}
}
