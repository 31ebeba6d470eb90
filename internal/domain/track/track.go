// Package track provides the catalog Track value used across a DJ session.
package track

import (
	"strings"
	"time"
)

// Track is a catalog track as resolved from the music service.
type Track struct {
	ID          string        // Catalog track ID
	Name        string        // Track title
	Artists     []string      // Artist names, primary artist first
	Album       string        // Album name
	AlbumArtURL string        // Album art URL
	Duration    time.Duration // Track duration
	URL         string        // Public URL
	Popularity  int           // Popularity score (0-100)
	Explicit    bool          // Explicit content flag
	Markets     []string      // Available markets
	IsPlayable  *bool         // Playable in the requested market (nil if market not specified)
}

// PrimaryArtist returns the first credited artist, or an empty string.
func (t *Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// ArtistLine joins all artists the way they are shown to users.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// Label returns "Artist - Title" for logs and notices.
func (t *Track) Label() string {
	return t.ArtistLine() + " - " + t.Name
}

// IsAvailableInMarket checks if the track is available in the specified market.
func (t *Track) IsAvailableInMarket(market string) bool {
	// If IsPlayable is set, it takes precedence (Track Relinking support)
	if t.IsPlayable != nil {
		return *t.IsPlayable
	}

	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}
