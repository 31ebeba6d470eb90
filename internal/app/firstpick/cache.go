// Package firstpick precomputes each persona's opening pick so the first AI
// pick of a session is instant.
package firstpick

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/osa030/duet/internal/app/selection"
	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/domain/track"
)

// ErrNoSelection means the pipeline produced no opening pick.
var ErrNoSelection = errors.New("no first selection produced")

// Store persists personas and their cache slot.
type Store interface {
	ListPersonas(ctx context.Context) ([]persona.Persona, error)
	GetPersona(ctx context.Context, id string) (*persona.Persona, error)
	SaveFirstSelection(ctx context.Context, personaID string, fs persona.FirstSelection) error
	// TakeFirstSelection atomically reads and clears the slot. It returns nil
	// when the slot is empty.
	TakeFirstSelection(ctx context.Context, personaID string) (*persona.FirstSelection, error)
	ClearFirstSelection(ctx context.Context, personaID string) (bool, error)
}

// Selector runs the selection pipeline.
type Selector interface {
	Select(ctx context.Context, req selection.Request) (selection.Result, error)
}

// Resolver re-resolves a cached track against the catalog.
type Resolver interface {
	ResolveTrack(ctx context.Context, trackID string) (*track.Track, bool, error)
}

// Config holds cache configuration.
type Config struct {
	MaxConcurrent   int64  // Concurrent background generations
	RefreshSchedule string // Cron spec for RefreshMissingSelections, empty to disable
}

// Cache is the first-pick cache.
type Cache struct {
	store    Store
	selector Selector
	resolver Resolver
	config   Config

	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
}

// New creates a new first-pick cache.
func New(store Store, selector Selector, resolver Resolver, config Config) *Cache {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		store:    store,
		selector: selector,
		resolver: resolver,
		config:   config,
		sem:      semaphore.NewWeighted(config.MaxConcurrent),
		inFlight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartSchedule runs RefreshMissingSelections now and on the configured schedule.
func (c *Cache) StartSchedule() error {
	if c.config.RefreshSchedule != "" {
		c.cron = cron.New()
		_, err := c.cron.AddFunc(c.config.RefreshSchedule, func() {
			c.RefreshMissingSelections(c.ctx)
		})
		if err != nil {
			return errors.Wrapf(err, "invalid refresh schedule %q", c.config.RefreshSchedule)
		}
		c.cron.Start()
	}
	c.RefreshMissingSelections(c.ctx)
	return nil
}

// Close stops scheduling, cancels running generations and waits for them.
func (c *Cache) Close() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	c.cancel()
	c.wg.Wait()
}

// RefreshMissingSelections starts a background generation for every persona
// without a cached pick.
func (c *Cache) RefreshMissingSelections(ctx context.Context) {
	personas, err := c.store.ListPersonas(ctx)
	if err != nil {
		zlog.Error().Msgf("failed to list personas: error=%v", err)
		return
	}
	for _, p := range personas {
		if p.FirstSelection != nil {
			continue
		}
		c.Generate(p)
	}
}

// Generate starts a background generation for p. It does nothing and returns
// false when one is already in flight for the persona.
func (c *Cache) Generate(p persona.Persona) bool {
	c.mu.Lock()
	if _, ok := c.inFlight[p.ID]; ok {
		c.mu.Unlock()
		zlog.Debug().Msgf("first selection generation already running: persona=%s", p.ID)
		return false
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.inFlight[p.ID] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, p.ID)
			c.mu.Unlock()
		}()

		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		fs, err := c.GenerateFirstSelection(c.ctx, p)
		if err != nil {
			if c.ctx.Err() == nil {
				zlog.Warn().Msgf("first selection generation failed: persona=%s error=%v", p.ID, err)
			}
			return
		}
		if err := c.store.SaveFirstSelection(c.ctx, p.ID, *fs); err != nil {
			zlog.Error().Msgf("failed to save first selection: persona=%s error=%v", p.ID, err)
			return
		}
		zlog.Info().Msgf("first selection cached: persona=%s track=%q", p.ID, fs.Track.Label())
	}()
	return true
}

// InFlight reports whether a generation is running for the persona.
func (c *Cache) InFlight(personaID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[personaID]
	return ok
}

// GenerateFirstSelection runs the pipeline with an empty history.
func (c *Cache) GenerateFirstSelection(ctx context.Context, p persona.Persona) (*persona.FirstSelection, error) {
	p.FirstSelection = nil
	res, err := c.selector.Select(ctx, selection.Request{
		Persona:       p,
		RecordRecency: true,
		Diagnostics:   true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "selection for persona %s", p.ID)
	}
	if !res.Selected() {
		return nil, errors.Wrapf(ErrNoSelection, "persona %s: %s %s", p.ID, res.Outcome, res.Reason)
	}

	rec := res.Recommendation
	rec.Rationale = res.Rationale
	return &persona.FirstSelection{
		Recommendation: rec,
		CreatedAt:      time.Now(),
		Track:          res.Track,
	}, nil
}

// Pick is the opening pick returned by Consume.
type Pick struct {
	Result    selection.Result
	FromCache bool
}

// Consume takes the cached pick of req.Persona when its track still resolves,
// otherwise runs the pipeline live with req. Either way the slot is empty
// afterwards and a regeneration is started.
func (c *Cache) Consume(ctx context.Context, req selection.Request) (Pick, error) {
	p := req.Persona
	defer c.Generate(p)

	fs, err := c.store.TakeFirstSelection(ctx, p.ID)
	if err != nil {
		zlog.Warn().Msgf("failed to take first selection, selecting live: persona=%s error=%v", p.ID, err)
	}
	if fs != nil {
		if t := c.resolve(ctx, fs); t != nil {
			zlog.Info().Msgf("using cached first selection: persona=%s track=%q", p.ID, t.Label())
			return Pick{
				Result: selection.Result{
					Outcome:        selection.OutcomeSelected,
					Track:          t,
					Rationale:      fs.Recommendation.Rationale,
					Recommendation: fs.Recommendation,
				},
				FromCache: true,
			}, nil
		}
		zlog.Info().Msgf("cached first selection is stale, selecting live: persona=%s", p.ID)
	}

	res, err := c.selector.Select(ctx, req)
	if err != nil {
		return Pick{}, err
	}
	return Pick{Result: res}, nil
}

func (c *Cache) resolve(ctx context.Context, fs *persona.FirstSelection) *track.Track {
	if fs.Track == nil || fs.Track.ID == "" {
		return nil
	}
	t, playable, err := c.resolver.ResolveTrack(ctx, fs.Track.ID)
	if err != nil {
		zlog.Warn().Msgf("failed to resolve cached track: track_id=%s error=%v", fs.Track.ID, err)
		return nil
	}
	if !playable {
		return nil
	}
	return t
}

// Invalidate clears the persona's cached pick if it is artist/title and starts
// a regeneration. It reports whether the pick was cleared.
func (c *Cache) Invalidate(ctx context.Context, personaID, artist, title string) (bool, error) {
	p, err := c.store.GetPersona(ctx, personaID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to load persona %s", personaID)
	}
	if p == nil || !p.FirstSelection.Matches(artist, title) {
		return false, nil
	}

	cleared, err := c.store.ClearFirstSelection(ctx, personaID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to clear first selection of %s", personaID)
	}
	if cleared {
		zlog.Info().Msgf("cached first selection already played, regenerating: persona=%s song=%q", personaID, artist+" - "+title)
		p.FirstSelection = nil
		c.Generate(*p)
	}
	return cleared, nil
}
