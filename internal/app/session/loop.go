package session

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/playback"
	"github.com/osa030/duet/internal/domain/song"
)

// playbackLoop handles monitor events until the monitor is stopped.
func (m *Manager) playbackLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback loop panicked: %v", r)
			// Restart the loop so the session keeps advancing
			go m.playbackLoop(ctx)
			return
		}
		close(m.done)
	}()

	for event := range m.monitor.Events() {
		m.handlePlaybackEvent(ctx, event)
	}
}

func (m *Manager) handlePlaybackEvent(ctx context.Context, event playback.Event) {
	switch event.Type {
	case playback.EventTrackStarted:
		m.onTrackStarted(ctx, event.TrackID)
	case playback.EventPrefetched:
		zlog.Debug().Msgf("device has the next song: current=%s next=%s", event.TrackID, event.NextID)
	case playback.EventAdvance:
		m.onAdvance(ctx, event)
	}
}

// onTrackStarted reconciles a track the device started on its own, which is
// the case after an accepted prefetch.
func (m *Manager) onTrackStarted(ctx context.Context, trackID string) {
	if current, ok := m.stateMgr.NowPlaying(); ok && current.Track.ID == trackID {
		return
	}

	if next, ok := m.stateMgr.PeekNext(); ok && next.Track.ID == trackID {
		current, _ := m.stateMgr.NowPlaying()
		m.advance(ctx, current.ID, false)
		return
	}

	// A late report of a replaced track is refused here.
	if m.stateMgr.MarkNowPlaying(trackID) {
		return
	}
	zlog.Warn().Msgf("device track not reconciled with the session: track_id=%s", trackID)
}

func (m *Manager) onAdvance(ctx context.Context, event playback.Event) {
	current, ok := m.stateMgr.NowPlaying()
	if ok && current.Track.ID != event.TrackID {
		zlog.Debug().Msgf("stale advance ignored: track_id=%s playing=%s", event.TrackID, current.Track.ID)
		return
	}
	zlog.Info().Msgf("advancing: track_id=%s reason=%s", event.TrackID, event.Reason)
	m.advance(ctx, current.ID, true)
}

// advance ends the song fromID and consumes the head of the queue, starting it
// on the device when play is set. It happens at most once per song; an empty
// fromID means nothing is playing.
func (m *Manager) advance(ctx context.Context, fromID string, play bool) (song.Song, bool) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return song.Song{}, false
	}
	if fromID != "" {
		if m.advanced[fromID] {
			m.mu.Unlock()
			zlog.Debug().Msgf("already advanced: song_id=%s", fromID)
			return song.Song{}, false
		}
		m.advanced[fromID] = true
	}
	next, ok := m.stateMgr.AdvanceToNextSong()
	m.mu.Unlock()

	if !ok {
		m.notification.Notify("The queue is empty. Pick the next song!", notification.SeverityInfo)
		return song.Song{}, false
	}

	if play {
		m.play(ctx, next)
	} else {
		m.monitor.NotifyTrackChanged(next.Track.ID)
	}
	m.afterConsume(next)
	return next, true
}

// startIfIdle starts the head of the queue when nothing is playing. It runs
// under the session context.
func (m *Manager) startIfIdle() {
	m.mu.Lock()
	_, playing := m.stateMgr.NowPlaying()
	if playing || !m.running {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	next, ok := m.stateMgr.AdvanceToNextSong()
	m.mu.Unlock()

	if !ok {
		return
	}
	m.play(ctx, next)
	m.afterConsume(next)
}

func (m *Manager) play(ctx context.Context, s song.Song) {
	if err := m.deps.Device.Play(ctx, s.Track); err != nil {
		if ctx.Err() == nil {
			zlog.Error().Msgf("failed to start playback: track=%q error=%v", s.Track.Label(), err)
			m.notification.Notify(m.config.GetMessage("default_error"), notification.SeverityError)
		}
		return
	}
	m.monitor.NotifyTrackChanged(s.Track.ID)
}

// afterConsume runs the side effects of a song becoming the playing song.
func (m *Manager) afterConsume(s song.Song) {
	zlog.Info().Msgf("now playing: track=%q by=%s turn=%s", s.Track.Label(), s.SelectedBy, m.stateMgr.Turn())
	m.notification.Notify("Now playing: "+s.Track.Label(), notification.SeverityInfo)

	m.mu.Lock()
	fromCache := m.fromCache[s.ID]
	delete(m.fromCache, s.ID)
	running, ctx := m.running, m.ctx
	if running {
		m.wg.Add(1)
	}
	m.mu.Unlock()
	if !running {
		return
	}

	go func() {
		defer m.wg.Done()
		if !fromCache {
			m.invalidateFirstPick(ctx, s)
		}
		m.recordToPlaylist(ctx, s)
	}()

	if m.stateMgr.QueueLen() == 0 {
		m.startPrefetch()
	}
}

// invalidateFirstPick clears the persona's cached opening pick when it was
// just played some other way.
func (m *Manager) invalidateFirstPick(ctx context.Context, s song.Song) {
	if m.deps.FirstPick == nil {
		return
	}
	cleared, err := m.deps.FirstPick.Invalidate(ctx, m.persona.ID, s.Track.PrimaryArtist(), s.Track.Name)
	if err != nil {
		zlog.Warn().Msgf("failed to invalidate first pick: persona=%s error=%v", m.persona.ID, err)
		return
	}
	if cleared {
		zlog.Info().Msgf("first pick invalidated: persona=%s track=%q", m.persona.ID, s.Track.Label())
	}
}

func (m *Manager) recordToPlaylist(ctx context.Context, s song.Song) {
	if m.deps.Playlists == nil {
		return
	}
	playlistID, _ := m.stateMgr.Playlist()
	if playlistID == "" {
		return
	}
	if err := m.deps.Playlists.AddTracksToPlaylist(ctx, playlistID, []string{s.Track.ID}); err != nil {
		zlog.Error().Msgf("failed to add track to playlist: track_id=%s error=%v", s.Track.ID, err)
	}
}
