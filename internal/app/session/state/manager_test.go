package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/duet/internal/domain/song"
)

func TestManager_EnqueueUserPickDropsBackups(t *testing.T) {
	m := New("s1", "p1", song.SideUser)
	backup := newSong("backup", song.SideAI, song.StatusQueuedIfUserSkips)
	m.Enqueue(backup)
	assert.False(t, m.HasQueuedUserPick())

	dropped := m.EnqueueUserPick(newSong("mine", song.SideAI, song.StatusQueuedIfUserSkips))

	require.Len(t, dropped, 1)
	assert.Equal(t, backup.ID, dropped[0].ID)
	queue := m.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "mine", queue[0].Track.ID)
	assert.Equal(t, song.SideUser, queue[0].SelectedBy)
	assert.Equal(t, song.StatusUpNext, queue[0].Status)
	assert.True(t, m.HasQueuedUserPick())
}

func TestManager_EnqueueUserPickKeepsCommittedPicks(t *testing.T) {
	m := New("s1", "p1", song.SideAI)
	m.Enqueue(newSong("ai", song.SideAI, song.StatusUpNext))

	dropped := m.EnqueueUserPick(newSong("mine", song.SideUser, song.StatusUpNext))

	assert.Empty(t, dropped)
	assert.Equal(t, 2, m.QueueLen())
	next, ok := m.PeekNext()
	require.True(t, ok)
	assert.Equal(t, "ai", next.Track.ID)
}

func TestManager_DropAIPicks(t *testing.T) {
	m := New("s1", "p1", song.SideAI)
	m.Enqueue(newSong("ai1", song.SideAI, song.StatusUpNext))
	m.Enqueue(newSong("mine", song.SideUser, song.StatusUpNext))
	m.Enqueue(newSong("ai2", song.SideAI, song.StatusQueuedIfUserSkips))

	dropped := m.DropAIPicks()

	assert.Len(t, dropped, 2)
	queue := m.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "mine", queue[0].Track.ID)
}

func TestManager_MarkNowPlaying(t *testing.T) {
	m := New("s1", "p1", song.SideUser)
	m.Enqueue(newSong("a", song.SideUser, song.StatusUpNext))
	m.Enqueue(newSong("b", song.SideAI, song.StatusUpNext))
	_, _ = m.AdvanceToNextSong()
	_, _ = m.AdvanceToNextSong()

	now, ok := m.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, "b", now.Track.ID)

	// a was consumed before b and stays played
	assert.False(t, m.MarkNowPlaying("a"))
	now, ok = m.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, "b", now.Track.ID)
	assert.Equal(t, song.StatusPlayed, m.History()[0].Status)

	assert.True(t, m.MarkNowPlaying("b"))
	assert.False(t, m.MarkNowPlaying("unknown"))

	assert.False(t, m.MarkPlayed("a"))
	assert.True(t, m.MarkPlayed("b"))
	_, ok = m.NowPlaying()
	assert.False(t, ok)

	// nothing playing: the device resumed an earlier song
	assert.True(t, m.MarkNowPlaying("a"))
	now, ok = m.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, "a", now.Track.ID)
}

func TestManager_SnapshotIsACopy(t *testing.T) {
	m := New("s1", "p1", song.SideUser)
	m.Enqueue(newSong("a", song.SideUser, song.StatusUpNext))
	m.Enqueue(newSong("b", song.SideAI, song.StatusUpNext))
	_, _ = m.AdvanceToNextSong()
	m.SetThinking(true)

	snap := m.Snapshot()
	snap.Queue[0].Status = song.StatusPlayed

	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, "p1", snap.PersonaID)
	assert.True(t, snap.Thinking)
	require.NotNil(t, snap.NowPlaying)
	assert.Equal(t, "a", snap.NowPlaying.Track.ID)
	assert.Equal(t, song.StatusUpNext, m.Queue()[0].Status)
}

func TestSnapshot_Recent(t *testing.T) {
	snap := Snapshot{History: []song.Song{
		newSong("1", song.SideUser, song.StatusPlayed),
		newSong("2", song.SideUser, song.StatusPlayed),
		newSong("3", song.SideUser, song.StatusPlayed),
	}}

	recent := snap.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[0].Track.ID)
	assert.Equal(t, "3", recent[1].Track.ID)
	assert.Len(t, snap.Recent(10), 3)
	assert.Nil(t, snap.Recent(0))
}
