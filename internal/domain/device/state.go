// Package device provides the playback device state observed by the session.
package device

import "time"

// State is one observation of the playback device.
type State struct {
	TrackID  string        // Empty when nothing is loaded
	Progress time.Duration // Elapsed time in the current track
	Duration time.Duration // Length of the current track, zero if unknown
	Playing  bool
}

// Fraction returns elapsed/duration, or 0 when the duration is unknown.
func (s State) Fraction() float64 {
	if s.Duration <= 0 {
		return 0
	}
	f := float64(s.Progress) / float64(s.Duration)
	if f < 0 {
		return 0
	}
	return f
}

// HasTrack reports whether a track is loaded.
func (s State) HasTrack() bool {
	return s.TrackID != ""
}
