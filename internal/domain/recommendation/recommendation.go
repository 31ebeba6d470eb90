// Package recommendation provides the values exchanged with recommendation services.
package recommendation

import (
	"strings"
)

// Recommendation is a suggested next song, not yet resolved against the catalog.
type Recommendation struct {
	Artist    string
	Title     string
	Rationale string
}

// SearchQuery returns the primary catalog query, "<artist> <title>".
func (r Recommendation) SearchQuery() string {
	return strings.TrimSpace(r.Artist + " " + r.Title)
}

// IsEmpty reports whether the recommendation names no song.
func (r Recommendation) IsEmpty() bool {
	return strings.TrimSpace(r.Title) == ""
}

// SameSong compares artist and title, ignoring case and surrounding spaces.
func (r Recommendation) SameSong(artist, title string) bool {
	return strings.EqualFold(strings.TrimSpace(r.Artist), strings.TrimSpace(artist)) &&
		strings.EqualFold(strings.TrimSpace(r.Title), strings.TrimSpace(title))
}

// String returns "Artist - Title".
func (r Recommendation) String() string {
	return r.Artist + " - " + r.Title
}

// DirectionOption is one stylistic pivot offered to the user.
type DirectionOption struct {
	Prompt string // Detailed instruction passed to the next recommendation
	Label  string // Short label shown to the user
}

// Exclusion is a song the persona picked recently and should not pick again.
type Exclusion struct {
	Artist string
	Title  string
}
