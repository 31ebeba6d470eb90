package state

import (
	"sync"
	"time"

	"github.com/osa030/duet/internal/domain/song"
)

// Manager owns the session's history, queue, turn and thinking flag.
// All mutation of session state goes through its methods.
type Manager struct {
	mu sync.RWMutex

	sessionID string
	personaID string

	phase    Phase
	turn     song.Side
	thinking bool

	history []song.Song // played songs; the last entry may be PLAYING
	queue   []song.Song // FIFO of pending picks

	playlistID  string
	playlistURL string
}

// New creates a new state manager.
func New(sessionID, personaID string, firstTurn song.Side) *Manager {
	return &Manager{
		sessionID: sessionID,
		personaID: personaID,
		phase:     PhaseWaiting,
		turn:      firstTurn,
	}
}

// SessionID returns the session ID.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// PersonaID returns the active persona ID.
func (m *Manager) PersonaID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.personaID
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// SetPhase sets the phase.
func (m *Manager) SetPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}

// Turn returns whose turn it is to pick.
func (m *Manager) Turn() song.Side {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turn
}

// SetTurn overrides the turn. Used when a session is started by one side.
func (m *Manager) SetTurn(side song.Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turn = side
}

// IsThinking reports whether an AI pick is being produced.
func (m *Manager) IsThinking() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thinking
}

// SetThinking sets the thinking flag.
func (m *Manager) SetThinking(thinking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thinking = thinking
}

// SetPlaylist records the session playlist.
func (m *Manager) SetPlaylist(id, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlistID = id
	m.playlistURL = url
}

// Playlist returns the session playlist ID and URL.
func (m *Manager) Playlist() (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playlistID, m.playlistURL
}

// History returns a copy of the history.
func (m *Manager) History() []song.Song {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSongs(m.history)
}

// Queue returns a copy of the queue.
func (m *Manager) Queue() []song.Song {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSongs(m.queue)
}

// Enqueue appends a song to the queue.
func (m *Manager) Enqueue(s song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, s)
}

// EnqueueUserPick queues a user's committed pick. AI backups queued while
// waiting for the user are dropped because the user did pick.
// It returns the dropped backups.
func (m *Manager) EnqueueUserPick(s song.Song) []song.Song {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []song.Song
	kept := m.queue[:0:0]
	for _, q := range m.queue {
		if q.Status == song.StatusQueuedIfUserSkips {
			dropped = append(dropped, q)
			continue
		}
		kept = append(kept, q)
	}
	s.SelectedBy = song.SideUser
	s.Status = song.StatusUpNext
	m.queue = append(kept, s)
	return dropped
}

// DropAIPicks removes every queued AI pick and returns them.
func (m *Manager) DropAIPicks() []song.Song {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []song.Song
	kept := m.queue[:0:0]
	for _, q := range m.queue {
		if q.SelectedBy == song.SideAI {
			dropped = append(dropped, q)
			continue
		}
		kept = append(kept, q)
	}
	m.queue = kept
	return dropped
}

// HasQueuedUserPick reports whether a user-selected song is waiting in the queue.
func (m *Manager) HasQueuedUserPick() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queue {
		if q.SelectedBy == song.SideUser {
			return true
		}
	}
	return false
}

// QueueLen returns the number of queued songs.
func (m *Manager) QueueLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

// PeekNext returns the song that will be consumed next.
func (m *Manager) PeekNext() (song.Song, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.queue) == 0 {
		return song.Song{}, false
	}
	return m.queue[0], true
}

// NowPlaying returns the song holding the PLAYING status.
func (m *Manager) NowPlaying() (song.Song, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.playingIndexLocked(); i >= 0 {
		return m.history[i], true
	}
	return song.Song{}, false
}

// MarkNowPlaying applies the PLAYING status to the most recent history entry
// with the given track ID. Entries consumed before the PLAYING song are never
// marked again. It returns false if no entry qualifies.
func (m *Manager) MarkNowPlaying(trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	playing := m.playingIndexLocked()
	for i := len(m.history) - 1; i >= 0 && i >= playing; i-- {
		if m.history[i].Track.ID != trackID {
			continue
		}
		if i == playing {
			return true
		}
		m.finishPlayingLocked()
		m.history[i].Status = song.StatusPlaying
		return true
	}
	return false
}

// MarkPlayed ends the PLAYING song if it has the given track ID.
func (m *Manager) MarkPlayed(trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.playingIndexLocked()
	if i < 0 || m.history[i].Track.ID != trackID {
		return false
	}
	m.history[i].Status = song.StatusPlayed
	return true
}

// Snapshot returns a copy of the whole state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		SessionID: m.sessionID,
		PersonaID: m.personaID,
		Phase:     m.phase,
		Turn:      m.turn,
		Thinking:  m.thinking,
		History:   cloneSongs(m.history),
		Queue:     cloneSongs(m.queue),
		TakenAt:   time.Now(),
	}
	if i := m.playingIndexLocked(); i >= 0 {
		s := m.history[i]
		snap.NowPlaying = &s
	}
	return snap
}

// playingIndexLocked returns the history index of the PLAYING song or -1.
func (m *Manager) playingIndexLocked() int {
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Status == song.StatusPlaying {
			return i
		}
	}
	return -1
}

// finishPlayingLocked marks every PLAYING entry as PLAYED.
func (m *Manager) finishPlayingLocked() {
	for i := range m.history {
		if m.history[i].Status == song.StatusPlaying {
			m.history[i].Status = song.StatusPlayed
		}
	}
}

func cloneSongs(in []song.Song) []song.Song {
	if len(in) == 0 {
		return nil
	}
	out := make([]song.Song, len(in))
	copy(out, in)
	return out
}
