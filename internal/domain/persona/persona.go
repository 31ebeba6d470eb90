// Package persona provides the automated DJ persona and its cached opening pick.
package persona

import (
	"time"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/track"
)

// Persona is the automated side of a session.
type Persona struct {
	ID             string
	Name           string
	StyleGuide     string // Free text biasing recommendations
	Description    string // Used by the validator to judge stylistic fit
	FirstSelection *FirstSelection
}

// FirstSelection is a precomputed opening pick for a persona.
type FirstSelection struct {
	Recommendation recommendation.Recommendation
	CreatedAt      time.Time
	Track          *track.Track // nil if the pick was cached without a resolved track
}

// Matches reports whether the cached pick is the given artist and title.
func (f *FirstSelection) Matches(artist, title string) bool {
	if f == nil {
		return false
	}
	if f.Recommendation.SameSong(artist, title) {
		return true
	}
	if f.Track == nil {
		return false
	}
	for _, a := range f.Track.Artists {
		if (recommendation.Recommendation{Artist: a, Title: f.Track.Name}).SameSong(artist, title) {
			return true
		}
	}
	return false
}
