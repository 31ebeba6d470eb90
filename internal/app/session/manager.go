// Package session provides the session manager, the single owner of a DJ
// session's state, playback monitor and background picks.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/app/filter"
	"github.com/osa030/duet/internal/app/firstpick"
	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/playback"
	"github.com/osa030/duet/internal/app/recommend"
	"github.com/osa030/duet/internal/app/selection"
	"github.com/osa030/duet/internal/app/session/state"
	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/config"
	"github.com/osa030/duet/internal/infra/spotify"
)

var (
	ErrSessionNotRunning    = errors.New("session is not running")
	ErrSessionRunning       = errors.New("session is already running")
	ErrNothingQueued        = errors.New("nothing is queued")
	ErrDirectionUnsupported = errors.New("direction change is not available")
	ErrNoSuchDirection      = errors.New("no such direction option")
)

// Selector runs the selection pipeline.
type Selector interface {
	Select(ctx context.Context, req selection.Request) (selection.Result, error)
}

// FirstPicker serves the persona's opening pick.
type FirstPicker interface {
	Consume(ctx context.Context, req selection.Request) (firstpick.Pick, error)
	Invalidate(ctx context.Context, personaID, artist, title string) (bool, error)
}

// DirectionRecommender offers stylistic pivots.
type DirectionRecommender interface {
	RecommendDirectionChange(ctx context.Context, req recommend.DirectionRequest) ([]recommendation.DirectionOption, error)
}

// Catalog resolves and searches tracks.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	SearchTracks(ctx context.Context, query string, pageSize, maxResults int) ([]track.Track, error)
}

// PlaylistRecorder records the session into a playlist.
type PlaylistRecorder interface {
	CreatePlaylist(ctx context.Context, name, description string) (string, error)
	AddTracksToPlaylist(ctx context.Context, playlistID string, trackIDs []string) error
}

// Dependencies are the collaborators of a Manager.
type Dependencies struct {
	Device     playback.Device
	Catalog    Catalog
	Selector   Selector
	FirstPick  FirstPicker          // Optional, AIStarts selects live without it
	Directions DirectionRecommender // Optional
	Playlists  PlaylistRecorder     // Optional
	Notifier   *notification.Manager
}

// Manager manages one DJ session.
type Manager struct {
	mu sync.Mutex

	config  *config.Config
	deps    Dependencies
	persona persona.Persona

	// Components
	stateMgr     *state.Manager
	monitor      *playback.Monitor
	filterChain  *filter.Chain
	notification *notification.Manager

	// Prefetch
	prefetchSeq    uint64
	prefetchCancel context.CancelFunc
	userPicks      atomic.Uint64

	// Direction change
	offered   []recommendation.DirectionOption // Options awaiting a choice
	previous  []recommendation.DirectionOption // Every option offered so far
	direction *recommendation.DirectionOption  // Applied to the next AI pick

	advanced  map[string]bool // Song IDs already advanced from
	fromCache map[string]bool // Song IDs served by the first-pick cache

	running bool
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, deps Dependencies) (*Manager, error) {
	if deps.Device == nil {
		return nil, errors.New("playback device is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if deps.Selector == nil {
		return nil, errors.New("selector is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewManager()
	}

	pc := cfg.Persona(cfg.Session.PersonaID)
	if pc == nil {
		return nil, errors.Newf("persona %q is not configured", cfg.Session.PersonaID)
	}
	p := persona.Persona{
		ID:          pc.ID,
		Name:        pc.Name,
		StyleGuide:  pc.StyleGuide,
		Description: pc.Description,
	}

	firstTurn := song.SideUser
	if cfg.Session.StartingSide == "ai" {
		firstTurn = song.SideAI
	}
	stateMgr := state.New(uuid.New().String(), p.ID, firstTurn)

	m := &Manager{
		config:       cfg,
		deps:         deps,
		persona:      p,
		stateMgr:     stateMgr,
		notification: deps.Notifier,
		filterChain:  filter.NewChain(),
		advanced:     make(map[string]bool),
		fromCache:    make(map[string]bool),
		stopped:      make(chan struct{}),
	}
	m.monitor = playback.NewMonitor(deps.Device, stateMgr, playback.Config{
		PollInterval:      cfg.Playback.PollInterval,
		PrefetchThreshold: cfg.Playback.PrefetchThreshold,
		FallbackThreshold: cfg.Playback.FallbackThreshold,
		SettleTimeout:     cfg.Playback.SettleTimeout,
	})

	if err := m.setupFilters(); err != nil {
		return nil, err
	}
	return m, nil
}

// setupFilters initializes the admission chain. User picks pass every
// filter; AI picks only those that apply to the AI side.
func (m *Manager) setupFilters() error {
	cfg := m.config

	m.filterChain.Add(filter.NewMarketFilter(cfg.Spotify.Market))

	if cfg.IsFilterEnabled("duplicate_track_filter") {
		m.filterChain.Add(filter.NewDuplicateTrackFilter(m.stateMgr))
	}

	for name, factory := range filter.GetRegistered() {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := factory()
		if err := f.ValidateConfig(cfg.GetFilterSettings(name)); err != nil {
			return errors.Wrapf(err, "invalid %s settings", name)
		}
		m.filterChain.Add(f)
	}

	for _, code := range m.filterChain.ReturnCodes() {
		if cfg.GetMessage(code) == cfg.Messages.DefaultError {
			zlog.Warn().Msgf("no message configured for rejection code, using the default: code=%s", code)
		}
	}
	return nil
}

// Start starts the playback monitor and the event loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrSessionRunning
	}
	if m.stateMgr.Phase() == state.PhaseTerminated {
		m.mu.Unlock()
		return ErrSessionNotRunning
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	runCtx := m.ctx
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	if m.config.Session.RecordPlaylist && m.deps.Playlists != nil {
		m.createPlaylist(ctx)
	}

	m.monitor.Start(runCtx)
	go m.playbackLoop(runCtx)

	zlog.Info().Msgf("session started: session_id=%s persona=%s turn=%s",
		m.stateMgr.SessionID(), m.persona.ID, m.stateMgr.Turn())
	m.notification.Notify(m.config.GetMessage("session_started"), notification.SeverityInfo)
	return nil
}

// Stop stops the session. No playback events are handled and no picks are
// queued after it returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancelPrefetchLocked()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	m.monitor.Stop()
	cancel()
	<-done
	m.wg.Wait()

	m.stateMgr.SetThinking(false)
	m.stateMgr.SetPhase(state.PhaseTerminated)
	close(m.stopped)
	zlog.Info().Msgf("session stopped: session_id=%s", m.stateMgr.SessionID())
}

// Done returns a channel closed when the session stops.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

// Running reports whether the session is started.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Notifications returns the notice fan-out.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Persona returns the active persona.
func (m *Manager) Persona() persona.Persona {
	return m.persona
}

// AIStarts hands the turn to the AI and queues its opening pick, served from
// the first-pick cache when possible. It returns nil when no pick was produced.
func (m *Manager) AIStarts(ctx context.Context) (*song.Song, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, ErrSessionNotRunning
	}
	m.cancelPrefetchLocked()
	m.mu.Unlock()

	m.stateMgr.SetTurn(song.SideAI)
	m.stateMgr.SetThinking(true)
	req := m.newRequest()
	var (
		res       selection.Result
		fromCache bool
		err       error
	)
	if m.deps.FirstPick != nil {
		var pick firstpick.Pick
		pick, err = m.deps.FirstPick.Consume(ctx, req)
		res, fromCache = pick.Result, pick.FromCache
	} else {
		res, err = m.deps.Selector.Select(ctx, req)
	}
	m.stateMgr.SetThinking(false)
	if err != nil {
		zlog.Error().Msgf("AI start failed: persona=%s error=%v", m.persona.ID, err)
		return nil, errors.Wrap(err, "failed to select the opening pick")
	}
	if !res.Selected() {
		zlog.Info().Msgf("AI start produced no pick: persona=%s outcome=%s reason=%s", m.persona.ID, res.Outcome, res.Reason)
		return nil, nil
	}
	if result := m.filterChain.Execute(ctx, *res.Track, song.SideAI); !result.Accepted {
		zlog.Warn().Msgf("AI opening pick refused: track=%q code=%s detail=%s", res.Track.Label(), result.Code, result.Detail)
		return nil, nil
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, ErrSessionNotRunning
	}
	s := song.New(*res.Track, song.SideAI, res.Rationale, m.stateMgr.DetermineNextQueueStatus())
	if fromCache {
		m.fromCache[s.ID] = true
	}
	m.stateMgr.Enqueue(s)
	m.mu.Unlock()

	zlog.Info().Msgf("AI opening pick queued: track=%q from_cache=%t", s.Track.Label(), fromCache)
	m.notification.Notify("Up next: "+s.Track.Label(), notification.SeverityInfo)
	m.startIfIdle()
	return &s, nil
}

// Admission is the outcome of a user pick.
type Admission struct {
	Accepted bool
	Code     string // Rejection code, e.g. "duplicate_track"
	Message  string
	Song     *song.Song
}

// QueueUserPick resolves the track, runs the admission filters and queues it
// as the user's committed pick. AI backups queued for the user's turn are dropped.
func (m *Manager) QueueUserPick(ctx context.Context, trackID string) (Admission, error) {
	if !m.Running() {
		return Admission{}, ErrSessionNotRunning
	}

	t, err := m.deps.Catalog.GetTrack(ctx, trackID)
	if err != nil {
		zlog.Warn().Msgf("user pick rejected: track_id=%s code=track_not_found error=%v", trackID, err)
		return m.reject("track_not_found"), nil
	}

	result := m.filterChain.Execute(ctx, *t, song.SideUser)
	zlog.Info().Msgf("user pick: track=%q result=%t code=%s filter=%s", t.Label(), result.Accepted, result.Code, result.Filter)
	if !result.Accepted {
		return m.reject(result.Code), nil
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return Admission{}, ErrSessionNotRunning
	}
	s := song.New(*t, song.SideUser, "", song.StatusUpNext)
	dropped := m.stateMgr.EnqueueUserPick(s)
	m.userPicks.Add(1)
	m.mu.Unlock()

	for _, d := range dropped {
		zlog.Info().Msgf("AI backup dropped for user pick: track=%q", d.Track.Label())
	}

	m.startIfIdle()
	return Admission{Accepted: true, Message: m.config.GetMessage("success"), Song: &s}, nil
}

func (m *Manager) reject(code string) Admission {
	return Admission{Code: code, Message: m.config.GetMessage(code)}
}

// Skip ends the playing song and starts the next queued one.
func (m *Manager) Skip(ctx context.Context) (song.Song, error) {
	if !m.Running() {
		return song.Song{}, ErrSessionNotRunning
	}
	if _, ok := m.stateMgr.PeekNext(); !ok {
		return song.Song{}, ErrNothingQueued
	}

	current, _ := m.stateMgr.NowPlaying()
	next, ok := m.advance(ctx, current.ID, true)
	if !ok {
		return song.Song{}, ErrNothingQueued
	}
	return next, nil
}

// SkipTo starts the queued song with the given ID, abandoning the songs
// queued before it.
func (m *Manager) SkipTo(ctx context.Context, songID string) (song.Song, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return song.Song{}, ErrSessionNotRunning
	}
	current, playing := m.stateMgr.NowPlaying()
	target, abandoned, err := m.stateMgr.SkipToSong(songID)
	if err != nil {
		m.mu.Unlock()
		return song.Song{}, err
	}
	if playing {
		m.advanced[current.ID] = true
	}
	m.mu.Unlock()

	for _, a := range abandoned {
		zlog.Debug().Msgf("abandoned queued song: track=%q", a.Track.Label())
	}
	m.play(ctx, target)
	m.afterConsume(target)
	return target, nil
}

// RequestDirectionChange returns two stylistic pivots that differ from every
// option offered earlier in the session.
func (m *Manager) RequestDirectionChange(ctx context.Context) ([]recommendation.DirectionOption, error) {
	if m.deps.Directions == nil {
		return nil, ErrDirectionUnsupported
	}
	if !m.Running() {
		return nil, ErrSessionNotRunning
	}

	m.mu.Lock()
	previous := append([]recommendation.DirectionOption(nil), m.previous...)
	m.mu.Unlock()

	options, err := m.deps.Directions.RecommendDirectionChange(ctx, recommend.DirectionRequest{
		PersonaText: m.persona.StyleGuide,
		History:     m.stateMgr.History(),
		Previous:    previous,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get direction options")
	}

	m.mu.Lock()
	m.offered = options
	m.previous = append(m.previous, options...)
	m.mu.Unlock()

	zlog.Info().Msgf("direction options offered: count=%d", len(options))
	return options, nil
}

// ApplyDirection applies an offered option to the AI's next pick. Queued AI
// picks are dropped and a new pick is started with the hint.
func (m *Manager) ApplyDirection(ctx context.Context, index int) (recommendation.DirectionOption, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return recommendation.DirectionOption{}, ErrSessionNotRunning
	}
	if index < 0 || index >= len(m.offered) {
		m.mu.Unlock()
		return recommendation.DirectionOption{}, errors.Wrapf(ErrNoSuchDirection, "index=%d", index)
	}
	opt := m.offered[index]
	m.direction = &opt
	m.offered = nil
	m.cancelPrefetchLocked()
	dropped := m.stateMgr.DropAIPicks()
	m.mu.Unlock()

	zlog.Info().Msgf("direction applied: label=%q dropped=%d", opt.Label, len(dropped))
	m.notification.Notify("Changing direction: "+opt.Label, notification.SeverityInfo)
	m.startPrefetch()
	return opt, nil
}

// SearchTracks searches the catalog for user picks.
func (m *Manager) SearchTracks(ctx context.Context, query string) ([]track.Track, error) {
	return m.deps.Catalog.SearchTracks(ctx, query, m.config.Spotify.SearchPageSize, m.config.Spotify.SearchMaxResults)
}

// Status is a snapshot of the session.
type Status struct {
	state.Snapshot
	Playback         playback.State
	PersonaName      string
	PlaylistURL      string
	DirectionOptions []recommendation.DirectionOption
	Direction        *recommendation.DirectionOption
}

// Status returns the current session status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Snapshot:         m.stateMgr.Snapshot(),
		Playback:         m.monitor.State(),
		PersonaName:      m.persona.Name,
		DirectionOptions: append([]recommendation.DirectionOption(nil), m.offered...),
		Direction:        m.direction,
	}
	if _, url := m.stateMgr.Playlist(); url != "" {
		st.PlaylistURL = url
	}
	return st
}

func (m *Manager) createPlaylist(ctx context.Context) {
	name := m.config.Session.PlaylistName
	id, err := m.deps.Playlists.CreatePlaylist(ctx, name, "Played with "+m.persona.Name)
	if err != nil {
		zlog.Error().Msgf("failed to create session playlist: error=%v", err)
		return
	}
	m.stateMgr.SetPlaylist(id, spotify.PlaylistURL(id))
	zlog.Info().Msgf("session playlist created: playlist_id=%s", id)
}

// newRequest builds a pipeline request from the current state.
func (m *Manager) newRequest() selection.Request {
	snap := m.stateMgr.Snapshot()

	m.mu.Lock()
	direction := m.direction
	m.mu.Unlock()

	picks := m.userPicks.Load()
	return selection.Request{
		Persona:       m.persona,
		History:       snap.History,
		Direction:     direction,
		Turn:          snap.Turn,
		QueueCount:    len(snap.Queue),
		UserPicked:    func() bool { return m.userPicks.Load() != picks },
		RecordRecency: m.config.RecordRecencyEnabled(),
		Diagnostics:   m.config.DiagnosticsEnabled(),
	}
}
