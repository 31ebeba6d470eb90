package selection

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/duet/internal/app/diagnostic"
	"github.com/osa030/duet/internal/app/match"
	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/recommend"
	"github.com/osa030/duet/internal/app/validate"
	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// fakeRecommender answers from a script, repeating the last entry.
type fakeRecommender struct {
	mu       sync.Mutex
	script   []recResponse
	requests []recommend.Request
}

type recResponse struct {
	rec recommendation.Recommendation
	err error
}

func (f *fakeRecommender) RecommendNext(ctx context.Context, req recommend.Request) (recommendation.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].rec, f.script[i].err
}

func (f *fakeRecommender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCatalog struct {
	results map[string][]track.Track
	err     error
	queries []string
	onCall  func()
}

func (f *fakeCatalog) SearchTracks(ctx context.Context, query string, pageSize, maxResults int) ([]track.Track, error) {
	f.queries = append(f.queries, query)
	if f.onCall != nil {
		f.onCall()
	}
	return f.results[query], f.err
}

// fakeMatcher accepts the first candidate with a fixed confidence.
type fakeMatcher struct {
	confidence float64
	err        error
}

func (f *fakeMatcher) FindMatch(ctx context.Context, rec recommendation.Recommendation, candidates []track.Track) (match.Result, error) {
	if f.err != nil {
		return match.Result{}, f.err
	}
	return match.Result{Candidate: &candidates[0], Index: 0, Confidence: f.confidence, Explanation: "fake"}, nil
}

type fakeValidator struct {
	verdict validate.Verdict
	calls   int
	onCall  func()
}

func (f *fakeValidator) Validate(ctx context.Context, t track.Track, personaDescription string) validate.Verdict {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	return f.verdict
}

type fakeRecency struct {
	recent   []recommendation.Exclusion
	recorded []string
}

func (f *fakeRecency) RecentPicks(ctx context.Context, personaID string) ([]recommendation.Exclusion, error) {
	return f.recent, nil
}

func (f *fakeRecency) Record(ctx context.Context, personaID, artist, title, artworkURL string) error {
	f.recorded = append(f.recorded, artist+" - "+title)
	return nil
}

type fakeTelemetry struct {
	errors      []string
	diagnostics []*diagnostic.Record
}

func (f *fakeTelemetry) LogError(ctx context.Context, personaID, stage, message string) {
	f.errors = append(f.errors, stage)
}

func (f *fakeTelemetry) LogDiagnostic(ctx context.Context, personaID string, record *diagnostic.Record) {
	f.diagnostics = append(f.diagnostics, record)
}

type fakeNotifier struct {
	notices []string
}

func (f *fakeNotifier) Notify(message string, severity notification.Severity) {
	f.notices = append(f.notices, message)
}

func rec(artist, title string) recResponse {
	return recResponse{rec: recommendation.Recommendation{Artist: artist, Title: title, Rationale: "because"}}
}

func catalogTrack(id, artist, title string) track.Track {
	return track.Track{ID: id, Name: title, Artists: []string{artist}}
}

func playedSong(artist, title string) song.Song {
	return song.New(catalogTrack("h-"+title, artist, title), song.SideUser, "", song.StatusPlayed)
}

type fixture struct {
	recommender *fakeRecommender
	catalog     *fakeCatalog
	matcher     *fakeMatcher
	validator   *fakeValidator
	recency     *fakeRecency
	telemetry   *fakeTelemetry
	notifier    *fakeNotifier
}

func newFixture(script ...recResponse) *fixture {
	return &fixture{
		recommender: &fakeRecommender{script: script},
		catalog: &fakeCatalog{results: map[string][]track.Track{
			"X Y":   {catalogTrack("xy", "X", "Y")},
			"X2 Y2": {catalogTrack("x2y2", "X2", "Y2")},
		}},
		matcher:   &fakeMatcher{confidence: 0.9},
		validator: &fakeValidator{verdict: validate.Unavailable("no model")},
		recency:   &fakeRecency{},
		telemetry: &fakeTelemetry{},
		notifier:  &fakeNotifier{},
	}
}

func (f *fixture) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := New(Dependencies{
		Recommender: f.recommender,
		Catalog:     f.catalog,
		Matcher:     match.Tagged{Kind: match.KindStringBased, Matcher: f.matcher},
		Validator:   f.validator,
		Recency:     f.recency,
		Telemetry:   f.telemetry,
		Notifier:    f.notifier,
	}, Config{SelectionFailedMessage: "failed", ValidationRejectMessage: "rejected"})
	require.NoError(t, err)
	return c
}

var testPersona = persona.Persona{ID: "night-owl", Name: "Night Owl", StyleGuide: "late night soul"}

func TestSelect_Success(t *testing.T) {
	f := newFixture(rec("X", "Y"))
	f.recency.recent = []recommendation.Exclusion{{Artist: "Old", Title: "Pick"}}

	res, err := f.coordinator(t).Select(context.Background(), Request{
		Persona:       testPersona,
		RecordRecency: true,
		Diagnostics:   true,
	})
	require.NoError(t, err)
	require.True(t, res.Selected())
	assert.Equal(t, "xy", res.Track.ID)
	assert.Equal(t, "because", res.Rationale)
	assert.Equal(t, []string{"X - Y"}, f.recency.recorded)
	assert.Equal(t, f.recency.recent, f.recommender.requests[0].Exclusions)

	require.NotNil(t, res.Diagnostic)
	assert.Equal(t, "string_based", res.Diagnostic.Match.Kind)
	require.NotNil(t, res.Diagnostic.FinalTrack)
	assert.Equal(t, "xy", res.Diagnostic.FinalTrack.ID)
	assert.Len(t, f.telemetry.diagnostics, 1)
}

func TestSelect_RepeatGuard(t *testing.T) {
	history := []song.Song{playedSong("x", "y")}

	t.Run("one reinforced request with a different answer", func(t *testing.T) {
		f := newFixture(rec("X", "Y"), rec("X2", "Y2"))
		res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona, History: history})
		require.NoError(t, err)
		require.True(t, res.Selected())
		assert.Equal(t, "x2y2", res.Track.ID)

		require.Equal(t, 2, f.recommender.calls())
		assert.False(t, f.recommender.requests[0].AvoidRepeat)
		assert.True(t, f.recommender.requests[1].AvoidRepeat)
	})

	t.Run("still repeating is a soft failure retried once", func(t *testing.T) {
		f := newFixture(rec("X", "Y"))
		res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona, History: history})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoResult, res.Outcome)
		assert.Equal(t, ReasonAlreadyPlayed, res.Reason)
		// Two attempts, each with the original and the reinforced request.
		assert.Equal(t, 4, f.recommender.calls())
	})
}

func TestSelect_MatchThreshold(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		verdict    validate.Verdict
		want       Outcome
	}{
		{"below threshold never accepted", 0.49, validate.Verdict{Status: validate.StatusAccepted}, OutcomeNoResult},
		{"at threshold with no verdict", 0.5, validate.Unavailable("down"), OutcomeSelected},
		{"accepted verdict", 0.8, validate.Verdict{Status: validate.StatusAccepted}, OutcomeSelected},
		{"explicit rejection", 0.8, validate.Verdict{Status: validate.StatusRejected, Reasoning: "too loud"}, OutcomeNoResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(rec("X", "Y"))
			f.matcher.confidence = tt.confidence
			f.validator.verdict = tt.verdict

			res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
		})
	}
}

func TestSelect_NoGoodMatchRetriesOnce(t *testing.T) {
	f := newFixture(rec("X", "Y"))
	f.matcher.confidence = 0.40

	res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoResult, res.Outcome)
	assert.Equal(t, ReasonNoGoodMatch, res.Reason)
	assert.Equal(t, 2, f.recommender.calls())
	assert.Zero(t, f.validator.calls)
	assert.Equal(t, []string{string(ReasonNoGoodMatch)}, f.telemetry.errors)
	assert.Equal(t, []string{"failed"}, f.notifier.notices)
}

func TestSelect_ValidationRejectedIsLoggedAndNotified(t *testing.T) {
	f := newFixture(rec("X", "Y"))
	f.validator.verdict = validate.Verdict{Status: validate.StatusRejected, Reasoning: "off style"}

	res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
	require.NoError(t, err)
	assert.Equal(t, ReasonValidationRejected, res.Reason)
	assert.Equal(t, 2, f.validator.calls)
	assert.Equal(t, []string{"rejected", "rejected", "failed"}, f.notifier.notices)
	assert.Empty(t, f.recency.recorded)
}

func TestSelect_SearchFallsBackToTitle(t *testing.T) {
	f := newFixture(rec("Unknown Band", "Y2"))
	f.catalog.results["Y2"] = []track.Track{catalogTrack("y2", "Someone", "Y2")}

	res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
	require.NoError(t, err)
	require.True(t, res.Selected())
	assert.Equal(t, []string{"Unknown Band Y2", "Y2"}, f.catalog.queries)
}

func TestSelect_NoCandidates(t *testing.T) {
	f := newFixture(rec("Nobody", "Nothing"))
	res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
	require.NoError(t, err)
	assert.Equal(t, ReasonNoMatch, res.Reason)
}

func TestSelect_MatcherErrorIsSoft(t *testing.T) {
	f := newFixture(rec("X", "Y"))
	f.matcher.err = errors.New("llm down")
	res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
	require.NoError(t, err)
	assert.Equal(t, ReasonNoGoodMatch, res.Reason)
}

func TestSelect_HardErrors(t *testing.T) {
	t.Run("recommendation service", func(t *testing.T) {
		f := newFixture(recResponse{err: errors.New("401 unauthorized")})
		_, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
		require.Error(t, err)
		assert.Equal(t, 1, f.recommender.calls())
		assert.Empty(t, f.notifier.notices)
	})

	t.Run("catalog", func(t *testing.T) {
		f := newFixture(rec("X", "Y"))
		f.catalog.err = errors.New("503")
		_, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
		require.Error(t, err)
	})

	t.Run("empty recommendation is soft", func(t *testing.T) {
		f := newFixture(recResponse{err: recommend.ErrNoRecommendation}, rec("X", "Y"))
		res, err := f.coordinator(t).Select(context.Background(), Request{Persona: testPersona})
		require.NoError(t, err)
		assert.True(t, res.Selected())
	})
}

func TestSelect_Cancellation(t *testing.T) {
	history := []song.Song{playedSong("A", "B")}

	t.Run("user pick before checkpoint A", func(t *testing.T) {
		f := newFixture(rec("X", "Y"))
		res, err := f.coordinator(t).Select(context.Background(), Request{
			Persona:    testPersona,
			History:    history,
			UserPicked: func() bool { return true },
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, res.Outcome)
		assert.Empty(t, f.catalog.queries)
		assert.Equal(t, 1, f.recommender.calls())
		assert.Empty(t, f.telemetry.errors)
		assert.Empty(t, f.notifier.notices)
	})

	t.Run("user pick during search hits checkpoint B", func(t *testing.T) {
		f := newFixture(rec("X", "Y"))
		picked := false
		f.catalog.onCall = func() { picked = true }
		res, err := f.coordinator(t).Select(context.Background(), Request{
			Persona:    testPersona,
			History:    history,
			UserPicked: func() bool { return picked },
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, res.Outcome)
		assert.Zero(t, f.validator.calls)
	})

	t.Run("empty history ignores user picks", func(t *testing.T) {
		f := newFixture(rec("X", "Y"))
		res, err := f.coordinator(t).Select(context.Background(), Request{
			Persona:    testPersona,
			UserPicked: func() bool { return true },
		})
		require.NoError(t, err)
		assert.True(t, res.Selected())
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newFixture(recResponse{err: context.Canceled})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := f.coordinator(t).Select(ctx, Request{Persona: testPersona})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, res.Outcome)
	})
}

// A user pick that lands after checkpoint B does not stop the AI pick. Both
// picks are produced; the checkpoints are best effort.
func TestSelect_UserPickAfterCheckpointBStillSelects(t *testing.T) {
	f := newFixture(rec("X", "Y"))
	picked := false
	f.validator.onCall = func() { picked = true }

	res, err := f.coordinator(t).Select(context.Background(), Request{
		Persona:    testPersona,
		History:    []song.Song{playedSong("A", "B")},
		UserPicked: func() bool { return picked },
	})
	require.NoError(t, err)
	assert.True(t, picked)
	assert.True(t, res.Selected())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{}, Config{})
	assert.Error(t, err)

	_, err = New(Dependencies{
		Recommender: &fakeRecommender{},
		Catalog:     &fakeCatalog{},
		Matcher:     match.Tagged{Kind: match.KindStringBased},
	}, Config{})
	assert.Error(t, err)

	c, err := New(Dependencies{
		Recommender: &fakeRecommender{},
		Catalog:     &fakeCatalog{},
		Matcher:     match.Tagged{Kind: match.KindStringBased, Matcher: &fakeMatcher{}},
	}, Config{})
	require.NoError(t, err)
	assert.IsType(t, validate.Disabled{}, c.deps.Validator)
}
