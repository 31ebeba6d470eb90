package playback

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/device"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// Device is the playback device.
type Device interface {
	State(ctx context.Context) (device.State, error)
	// Enqueue appends a track to the device's own queue. Some devices reject it.
	Enqueue(ctx context.Context, t track.Track) error
	Play(ctx context.Context, t track.Track) error
}

// QueueSource exposes the next queued song.
type QueueSource interface {
	PeekNext() (song.Song, bool)
}

// Config holds monitor configuration.
type Config struct {
	PollInterval      time.Duration
	PrefetchThreshold float64 // Progress at which the next song is handed to the device
	FallbackThreshold float64 // Progress at which the session advances if prefetch did not happen
	// SettleTimeout bounds how long reports of a replaced track are ignored
	// after the session starts another one.
	SettleTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PrefetchThreshold <= 0 {
		c.PrefetchThreshold = 0.95
	}
	if c.FallbackThreshold <= 0 {
		c.FallbackThreshold = 0.98
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 3 * time.Second
	}
}

// eventBuffer is the capacity of the event channel.
const eventBuffer = 32

// Monitor polls the device, detects song changes and emits the events that
// drive queue advancement. For each track, EventAdvance is emitted at most once.
type Monitor struct {
	device Device
	queue  QueueSource
	config Config

	mu         sync.Mutex
	current    string
	state      State
	prefetchAt bool // Prefetch attempted for current
	prefetched bool // Device accepted the prefetch
	ended      bool // EventAdvance emitted for current
	stopped    bool

	// The session started expected on the device in place of replaced.
	// Until the device reports expected, reports of replaced are ignored.
	expected   string
	replaced   string
	expectedAt time.Time
	now        func() time.Time

	eventCh chan Event
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a new playback monitor.
func NewMonitor(d Device, queue QueueSource, config Config) *Monitor {
	config.setDefaults()
	return &Monitor{
		device:  d,
		queue:   queue,
		config:  config,
		now:     time.Now,
		eventCh: make(chan Event, eventBuffer),
	}
}

// Events returns the event channel. It is closed by Stop.
func (m *Monitor) Events() <-chan Event {
	return m.eventCh
}

// Start starts the polling loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil || m.stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Stop cancels the polling loop, waits for it to exit and closes the event
// channel. No events are emitted afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	m.stopped = true
	close(m.eventCh)
	m.mu.Unlock()
}

// NotifyTrackChanged records a track the session started on the device, so the
// one-shot flags are reset without waiting for the next poll. Polls still
// reporting the previous track are ignored until the device catches up or
// SettleTimeout passes.
func (m *Monitor) NotifyTrackChanged(trackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || trackID == m.current {
		return
	}
	m.expected = trackID
	m.replaced = m.current
	m.expectedAt = m.now()
	m.trackChangedLocked(trackID)
	m.state = StatePlaying
}

// CurrentTrackID returns the track the monitor believes is playing.
func (m *Monitor) CurrentTrackID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// State returns the last observed playback state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// poll reads the device once and applies the transitions.
func (m *Monitor) poll(ctx context.Context) {
	st, err := m.device.State(ctx)
	if err != nil {
		if ctx.Err() == nil {
			zlog.Debug().Msgf("failed to read playback state: error=%v", err)
		}
		return
	}

	m.mu.Lock()
	if m.stopped || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if m.settlingLocked(st) {
		m.mu.Unlock()
		return
	}
	m.state = stateOf(st)

	if !st.HasTrack() {
		if m.current != "" {
			if !m.ended {
				zlog.Warn().Msgf("playback stopped unexpectedly: track_id=%s", m.current)
				m.sendEventLocked(Event{Type: EventAdvance, TrackID: m.current, Reason: ReasonStopped})
			}
			m.current = ""
			m.resetFlagsLocked()
		}
		m.mu.Unlock()
		return
	}

	if st.TrackID != m.current {
		m.trackChangedLocked(st.TrackID)
	}
	if !st.Playing {
		m.mu.Unlock()
		return
	}

	progress := st.Fraction()
	current := m.current

	if progress >= m.config.PrefetchThreshold && !m.prefetchAt {
		m.prefetchAt = true
		next, ok := m.queue.PeekNext()
		m.mu.Unlock()
		if ok {
			m.prefetch(ctx, current, next)
		}
		m.mu.Lock()
		if m.stopped || m.current != current {
			m.mu.Unlock()
			return
		}
	}

	if progress >= m.config.FallbackThreshold && !m.ended && !m.prefetched {
		m.ended = true
		zlog.Info().Msgf("end of song without prefetch, advancing: track_id=%s progress=%.3f", current, progress)
		m.sendEventLocked(Event{Type: EventAdvance, TrackID: current, Reason: ReasonFallback})
	}
	m.mu.Unlock()
}

// prefetch hands next to the device. On rejection the song is advanced
// immediately instead of waiting for the fallback threshold.
func (m *Monitor) prefetch(ctx context.Context, current string, next song.Song) {
	err := m.device.Enqueue(ctx, next.Track)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.current != current {
		return
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		zlog.Warn().Msgf("device rejected prefetch, advancing now: track_id=%s next=%s error=%v", current, next.Track.ID, err)
		if !m.ended {
			m.ended = true
			m.sendEventLocked(Event{Type: EventAdvance, TrackID: current, Reason: ReasonPrefetchRejected})
		}
		return
	}

	m.prefetched = true
	zlog.Info().Msgf("prefetched next song: track_id=%s next=%s", current, next.Track.ID)
	m.sendEventLocked(Event{Type: EventPrefetched, TrackID: current, NextID: next.Track.ID})
}

// settlingLocked reports whether st is a late report of the track the session
// just replaced, or of no track while the device switches.
func (m *Monitor) settlingLocked(st device.State) bool {
	if m.expected == "" {
		return false
	}
	if st.TrackID == m.expected {
		m.expected, m.replaced = "", ""
		return false
	}
	lagging := !st.HasTrack() || st.TrackID == m.replaced
	if lagging && m.now().Sub(m.expectedAt) < m.config.SettleTimeout {
		zlog.Debug().Msgf("ignoring late device report: track_id=%s expected=%s", st.TrackID, m.expected)
		return true
	}
	m.expected, m.replaced = "", ""
	return false
}

func (m *Monitor) trackChangedLocked(trackID string) {
	previous := m.current
	m.current = trackID
	m.resetFlagsLocked()
	zlog.Debug().Msgf("track changed: track_id=%s previous=%s", trackID, previous)
	m.sendEventLocked(Event{Type: EventTrackStarted, TrackID: trackID, Previous: previous})
}

func (m *Monitor) resetFlagsLocked() {
	m.prefetchAt = false
	m.prefetched = false
	m.ended = false
}

// sendEventLocked sends an event without blocking.
// Must be called with m.mu held.
func (m *Monitor) sendEventLocked(e Event) {
	if m.stopped {
		return
	}
	select {
	case m.eventCh <- e:
	default:
		zlog.Warn().Msgf("playback event dropped: type=%s track_id=%s", e.Type, e.TrackID)
	}
}
