package firstpick

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/duet/internal/app/selection"
	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/track"
)

type memStore struct {
	mu       sync.Mutex
	personas map[string]persona.Persona
	saved    int
}

func newMemStore(ps ...persona.Persona) *memStore {
	s := &memStore{personas: make(map[string]persona.Persona)}
	for _, p := range ps {
		s.personas[p.ID] = p
	}
	return s
}

func (s *memStore) ListPersonas(ctx context.Context) ([]persona.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]persona.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) GetPersona(ctx context.Context, id string) (*persona.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) SaveFirstSelection(ctx context.Context, personaID string, fs persona.FirstSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.personas[personaID]
	p.FirstSelection = &fs
	s.personas[personaID] = p
	s.saved++
	return nil
}

func (s *memStore) TakeFirstSelection(ctx context.Context, personaID string) (*persona.FirstSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.personas[personaID]
	fs := p.FirstSelection
	p.FirstSelection = nil
	s.personas[personaID] = p
	return fs, nil
}

func (s *memStore) ClearFirstSelection(ctx context.Context, personaID string) (bool, error) {
	fs, err := s.TakeFirstSelection(ctx, personaID)
	return fs != nil, err
}

func (s *memStore) slot(personaID string) *persona.FirstSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personas[personaID].FirstSelection
}

func (s *memStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// fakeSelector returns a fixed track. When gate is set, calls block until it is closed.
type fakeSelector struct {
	calls atomic.Int32
	gate  chan struct{}
	none  bool
	err   error
	track track.Track
}

func (f *fakeSelector) Select(ctx context.Context, req selection.Request) (selection.Result, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return selection.Result{Outcome: selection.OutcomeCancelled}, nil
		}
	}
	if f.err != nil {
		return selection.Result{}, f.err
	}
	if f.none {
		return selection.Result{Outcome: selection.OutcomeNoResult, Reason: selection.ReasonNoGoodMatch}, nil
	}
	t := f.track
	return selection.Result{
		Outcome:        selection.OutcomeSelected,
		Track:          &t,
		Rationale:      "opener",
		Recommendation: recommendation.Recommendation{Artist: t.PrimaryArtist(), Title: t.Name},
	}, nil
}

type fakeResolver struct {
	playable bool
	err      error
	calls    int
}

func (f *fakeResolver) ResolveTrack(ctx context.Context, trackID string) (*track.Track, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return &track.Track{ID: trackID, Name: "Cached", Artists: []string{"Band"}}, f.playable, nil
}

var nightOwl = persona.Persona{ID: "night-owl", Name: "Night Owl", StyleGuide: "soul"}

func cached() *persona.FirstSelection {
	return &persona.FirstSelection{
		Recommendation: recommendation.Recommendation{Artist: "Band", Title: "Cached", Rationale: "from cache"},
		CreatedAt:      time.Now(),
		Track:          &track.Track{ID: "cached", Name: "Cached", Artists: []string{"Band"}},
	}
}

func withSlot(p persona.Persona, fs *persona.FirstSelection) persona.Persona {
	p.FirstSelection = fs
	return p
}

func TestConsume_UsesCacheWithoutPipeline(t *testing.T) {
	store := newMemStore(withSlot(nightOwl, cached()))
	selector := &fakeSelector{none: true}
	c := New(store, selector, &fakeResolver{playable: true}, Config{})
	defer c.Close()

	pick, err := c.Consume(context.Background(), selection.Request{Persona: nightOwl})
	require.NoError(t, err)
	assert.True(t, pick.FromCache)
	require.True(t, pick.Result.Selected())
	assert.Equal(t, "cached", pick.Result.Track.ID)
	assert.Equal(t, "from cache", pick.Result.Rationale)
	assert.Nil(t, store.slot(nightOwl.ID), "slot is empty right after consumption")

	c.wg.Wait()
	// Only the background regeneration ran the pipeline.
	assert.Equal(t, int32(1), selector.calls.Load())
}

func TestConsume_SecondConsumeFallsBackToLive(t *testing.T) {
	store := newMemStore(withSlot(nightOwl, cached()))
	selector := &fakeSelector{none: true}
	resolver := &fakeResolver{playable: true}
	c := New(store, selector, resolver, Config{})
	defer c.Close()

	first, err := c.Consume(context.Background(), selection.Request{Persona: nightOwl})
	require.NoError(t, err)
	assert.True(t, first.FromCache)
	c.wg.Wait()

	second, err := c.Consume(context.Background(), selection.Request{Persona: nightOwl})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.Equal(t, selection.OutcomeNoResult, second.Result.Outcome)
	assert.Equal(t, 1, resolver.calls)
}

func TestConsume_StaleEntry(t *testing.T) {
	tests := []struct {
		name     string
		slot     *persona.FirstSelection
		resolver *fakeResolver
	}{
		{"not playable", cached(), &fakeResolver{playable: false}},
		{"resolve error", cached(), &fakeResolver{err: errors.New("404")}},
		{"no track", &persona.FirstSelection{Recommendation: recommendation.Recommendation{Title: "x"}}, &fakeResolver{playable: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(withSlot(nightOwl, tt.slot))
			selector := &fakeSelector{track: track.Track{ID: "live", Name: "Live", Artists: []string{"Band"}}, gate: make(chan struct{})}
			close(selector.gate)
			c := New(store, selector, tt.resolver, Config{})
			defer c.Close()

			pick, err := c.Consume(context.Background(), selection.Request{Persona: nightOwl})
			require.NoError(t, err)
			assert.False(t, pick.FromCache)
			assert.Equal(t, "live", pick.Result.Track.ID)
		})
	}
}

func TestConsume_HardErrorPropagates(t *testing.T) {
	store := newMemStore(nightOwl)
	c := New(store, &fakeSelector{err: errors.New("quota")}, &fakeResolver{}, Config{})
	defer c.Close()

	_, err := c.Consume(context.Background(), selection.Request{Persona: nightOwl})
	require.Error(t, err)
}

func TestGenerate_OneInFlightPerPersona(t *testing.T) {
	store := newMemStore(nightOwl)
	selector := &fakeSelector{gate: make(chan struct{}), track: track.Track{ID: "gen", Name: "Gen", Artists: []string{"Band"}}}
	c := New(store, selector, &fakeResolver{}, Config{MaxConcurrent: 2})
	defer c.Close()

	assert.True(t, c.Generate(nightOwl))
	assert.False(t, c.Generate(nightOwl))
	assert.True(t, c.InFlight(nightOwl.ID))

	close(selector.gate)
	c.wg.Wait()

	assert.False(t, c.InFlight(nightOwl.ID))
	assert.Equal(t, int32(1), selector.calls.Load())
	require.NotNil(t, store.slot(nightOwl.ID))
	assert.Equal(t, "gen", store.slot(nightOwl.ID).Track.ID)
	assert.Equal(t, "opener", store.slot(nightOwl.ID).Recommendation.Rationale)
}

func TestRefreshMissingSelections(t *testing.T) {
	other := persona.Persona{ID: "morning", Name: "Morning"}
	store := newMemStore(withSlot(nightOwl, cached()), other)
	selector := &fakeSelector{track: track.Track{ID: "gen", Name: "Gen", Artists: []string{"Band"}}}
	c := New(store, selector, &fakeResolver{}, Config{})
	defer c.Close()

	c.RefreshMissingSelections(context.Background())
	c.wg.Wait()

	assert.Equal(t, int32(1), selector.calls.Load())
	assert.Equal(t, 1, store.savedCount())
	assert.NotNil(t, store.slot("morning"))
	assert.Equal(t, "cached", store.slot(nightOwl.ID).Track.ID)
}

func TestGenerateFirstSelection_NoResult(t *testing.T) {
	c := New(newMemStore(nightOwl), &fakeSelector{none: true}, &fakeResolver{}, Config{})
	defer c.Close()

	_, err := c.GenerateFirstSelection(context.Background(), nightOwl)
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestInvalidate(t *testing.T) {
	store := newMemStore(withSlot(nightOwl, cached()))
	selector := &fakeSelector{none: true}
	c := New(store, selector, &fakeResolver{}, Config{})
	defer c.Close()

	cleared, err := c.Invalidate(context.Background(), nightOwl.ID, "Other", "Song")
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.NotNil(t, store.slot(nightOwl.ID))

	cleared, err = c.Invalidate(context.Background(), nightOwl.ID, "band", "cached")
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Nil(t, store.slot(nightOwl.ID))

	c.wg.Wait()
	assert.Equal(t, int32(1), selector.calls.Load(), "regeneration started")

	cleared, err = c.Invalidate(context.Background(), "unknown", "band", "cached")
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestClose_CancelsWaitingGenerations(t *testing.T) {
	store := newMemStore(nightOwl)
	selector := &fakeSelector{gate: make(chan struct{})}
	c := New(store, selector, &fakeResolver{}, Config{})

	c.Generate(nightOwl)
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, c.Generate(nightOwl), "no generation after close")
	assert.Zero(t, store.savedCount())
}

func TestStartSchedule_InvalidSpec(t *testing.T) {
	c := New(newMemStore(), &fakeSelector{}, &fakeResolver{}, Config{RefreshSchedule: "not a schedule"})
	defer c.Close()
	assert.Error(t, c.StartSchedule())
}
