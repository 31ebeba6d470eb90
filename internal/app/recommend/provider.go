// Package recommend provides the recommendation services that suggest the AI's next song.
package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

var (
	// ErrNoRecommendation means the provider had nothing to suggest. It is a soft failure.
	ErrNoRecommendation = errors.New("no recommendation")
	// ErrUnsupported means the provider does not implement the operation.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Request is the input of RecommendNext.
type Request struct {
	PersonaID   string
	PersonaText string      // Persona style guide
	History     []song.Song // Session history, oldest first
	Direction   *recommendation.DirectionOption
	Exclusions  []recommendation.Exclusion // Songs the persona picked recently
	AvoidRepeat bool                       // Set on the re-request after a repeat
}

// DirectionRequest is the input of RecommendDirectionChange.
type DirectionRequest struct {
	PersonaText string
	History     []song.Song
	Previous    []recommendation.DirectionOption
}

// Provider suggests songs.
type Provider interface {
	// RecommendNext suggests the next song.
	RecommendNext(ctx context.Context, req Request) (recommendation.Recommendation, error)
	// RecommendDirectionChange returns two stylistic pivots that differ from req.Previous.
	RecommendDirectionChange(ctx context.Context, req DirectionRequest) ([]recommendation.DirectionOption, error)
	// Name returns the provider type (used in config).
	Name() string
}

// PlaylistSource is the Spotify access used by the playlist provider.
type PlaylistSource interface {
	GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error)
}

// isKnown reports whether artist/title is already in the history or exclusions.
func isKnown(req Request, artist, title string) bool {
	for i := range req.History {
		if req.History[i].Matches(artist, title) {
			return true
		}
	}
	rec := recommendation.Recommendation{Artist: artist, Title: title}
	for _, ex := range req.Exclusions {
		if rec.SameSong(ex.Artist, ex.Title) {
			return true
		}
	}
	return false
}

// describeHistory renders the most recent history entries, oldest first.
func describeHistory(history []song.Song, limit int) string {
	if len(history) == 0 {
		return "(nothing played yet)"
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for i := range history {
		s := &history[i]
		fmt.Fprintf(&b, "- %q by %s (picked by %s)\n", s.Track.Name, s.Track.ArtistLine(), strings.ToLower(s.SelectedBy.String()))
	}
	return b.String()
}

// dedupeOptions drops options whose label was offered before and keeps at most n.
func dedupeOptions(options, previous []recommendation.DirectionOption, n int) []recommendation.DirectionOption {
	seen := make(map[string]bool)
	for _, p := range previous {
		seen[strings.ToLower(strings.TrimSpace(p.Label))] = true
	}
	out := make([]recommendation.DirectionOption, 0, n)
	for _, o := range options {
		key := strings.ToLower(strings.TrimSpace(o.Label))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
		if len(out) == n {
			break
		}
	}
	return out
}
