package filter

import (
	"context"

	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// DuplicateTrackFilter rejects songs already played or committed in the
// session. Remasters and edits of the same recording by the same artist count
// as duplicates. Covers by another artist do not.
//
// AI backups waiting on the user's turn are not counted: a user pick drops
// them, so picking the same song the AI had lined up is allowed.
type DuplicateTrackFilter struct {
	songs SongSource
}

// SongSource exposes the session's songs.
type SongSource interface {
	History() []song.Song
	Queue() []song.Song
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(songs SongSource) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{
		songs: songs,
	}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects songs already played or queued in this session, including remasters. Covers are allowed"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// AppliesTo returns which sides this filter applies to.
// AI picks have their own repeat guard.
func (f *DuplicateTrackFilter) AppliesTo(side song.Side) bool {
	return side == song.SideUser
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, requested track.Track) Result {
	for _, s := range f.songs.History() {
		if track.SameRecording(s.Track, requested) {
			return Rejectf("duplicate_track", "%s already %s", s.Track.Label(), s.Status)
		}
	}
	for _, s := range f.songs.Queue() {
		if s.Status == song.StatusQueuedIfUserSkips {
			continue
		}
		if track.SameRecording(s.Track, requested) {
			return Rejectf("duplicate_track", "%s already queued by %s", s.Track.Label(), s.SelectedBy)
		}
	}
	return Accept()
}
