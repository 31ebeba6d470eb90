// Package song provides the session song entity and its queue lifecycle.
package song

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osa030/duet/internal/domain/track"
)

// Side identifies who picked a song, and whose turn it is to pick.
type Side int

const (
	// SideUser is the human DJ.
	SideUser Side = iota
	// SideAI is the automated persona.
	SideAI
)

// String returns the string representation of the side.
func (s Side) String() string {
	switch s {
	case SideUser:
		return "USER"
	case SideAI:
		return "AI"
	default:
		return "UNKNOWN"
	}
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideUser {
		return SideAI
	}
	return SideUser
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QueueStatus is the lifecycle tag of a song in the queue or history.
type QueueStatus int

const (
	// StatusUpNext is a committed next pick. Consuming it flips the turn.
	StatusUpNext QueueStatus = iota
	// StatusQueuedIfUserSkips is an AI backup queued during the user's turn.
	StatusQueuedIfUserSkips
	// StatusPlaying is the song at the playback head.
	StatusPlaying
	// StatusPlayed is terminal.
	StatusPlayed
)

// String returns the string representation of the status.
func (s QueueStatus) String() string {
	switch s {
	case StatusUpNext:
		return "UP_NEXT"
	case StatusQueuedIfUserSkips:
		return "QUEUED_IF_USER_SKIPS"
	case StatusPlaying:
		return "PLAYING"
	case StatusPlayed:
		return "PLAYED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s QueueStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Song is one entry in the session queue or history.
// Only Status changes after creation.
type Song struct {
	ID         string
	Track      track.Track
	SelectedBy Side
	AddedAt    time.Time
	Rationale  string
	Status     QueueStatus
}

// New creates a song with a fresh ID.
func New(t track.Track, by Side, rationale string, status QueueStatus) Song {
	return Song{
		ID:         uuid.New().String(),
		Track:      t,
		SelectedBy: by,
		AddedAt:    time.Now(),
		Rationale:  rationale,
		Status:     status,
	}
}

// Matches reports whether the song is the given artist and title, ignoring case.
// Any credited artist counts.
func (s *Song) Matches(artist, title string) bool {
	if !strings.EqualFold(strings.TrimSpace(s.Track.Name), strings.TrimSpace(title)) {
		return false
	}
	for _, a := range s.Track.Artists {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(artist)) {
			return true
		}
	}
	return false
}
