// Package state provides the session state model and the turn rules applied to it.
package state

import (
	"time"

	"github.com/osa030/duet/internal/domain/song"
)

// Phase represents the session lifecycle phase.
type Phase int

const (
	PhaseWaiting    Phase = iota // No song started yet
	PhaseActive                  // Songs are playing
	PhaseIdle                    // Queue ran dry, waiting for a pick
	PhaseTerminated              // Session has ended
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseActive:
		return "active"
	case PhaseIdle:
		return "idle"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	SessionID  string
	PersonaID  string
	Phase      Phase
	Turn       song.Side
	Thinking   bool
	NowPlaying *song.Song
	History    []song.Song
	Queue      []song.Song
	TakenAt    time.Time
}

// Recent returns up to n of the most recent history entries, oldest first.
func (s Snapshot) Recent(n int) []song.Song {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
