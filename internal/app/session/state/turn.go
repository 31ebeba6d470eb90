package state

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/song"
)

// ErrSongNotQueued is returned when skipping to a song that is not in the queue.
var ErrSongNotQueued = errors.New("song is not queued")

// DetermineNextQueueStatus returns the status a new AI pick must be queued with.
// During the user's turn the pick is only a backup; during the AI's turn it is
// the committed next song.
func (m *Manager) DetermineNextQueueStatus() song.QueueStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.turn == song.SideUser {
		return song.StatusQueuedIfUserSkips
	}
	return song.StatusUpNext
}

// AdvanceToNextSong ends the playing song and consumes the head of the queue,
// which becomes the PLAYING entry of the history. The turn flips only if the
// consumed song was UP_NEXT. With an empty queue nothing is consumed, the
// thinking flag is cleared, and ok is false.
func (m *Manager) AdvanceToNextSong() (next song.Song, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finishPlayingLocked()

	if len(m.queue) == 0 {
		m.thinking = false
		m.phase = PhaseIdle
		zlog.Info().Msgf("queue empty, waiting for a pick: turn=%s", m.turn)
		return song.Song{}, false
	}

	next = m.queue[0]
	m.queue = m.queue[1:]
	m.consumeLocked(&next)
	return next, true
}

// SkipToSong ends the playing song, abandons every song queued before the
// target and consumes the target with the same turn rule as AdvanceToNextSong.
// It returns the consumed target and the abandoned songs.
func (m *Manager) SkipToSong(songID string) (target song.Song, abandoned []song.Song, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, q := range m.queue {
		if q.ID == songID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return song.Song{}, nil, errors.Wrapf(ErrSongNotQueued, "song_id=%s", songID)
	}

	m.finishPlayingLocked()

	abandoned = cloneSongs(m.queue[:idx])
	target = m.queue[idx]
	m.queue = m.queue[idx+1:]
	m.consumeLocked(&target)

	if len(abandoned) > 0 {
		zlog.Info().Msgf("skipped queued songs: count=%d target=%s", len(abandoned), target.Track.Label())
	}
	return target, abandoned, nil
}

// consumeLocked moves s into the history as the playing song and applies the
// turn rule for its consumed status.
func (m *Manager) consumeLocked(s *song.Song) {
	consumed := s.Status
	s.Status = song.StatusPlaying
	m.history = append(m.history, *s)
	m.phase = PhaseActive

	if consumed == song.StatusUpNext {
		m.turn = m.turn.Other()
	}
	zlog.Info().Msgf("song consumed: track=%s by=%s status=%s turn=%s",
		s.Track.Label(), s.SelectedBy, consumed, m.turn)
}
