// Package selection runs the song selection pipeline that turns a persona and a
// session history into one catalog track.
package selection

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/app/diagnostic"
	"github.com/osa030/duet/internal/app/match"
	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/recommend"
	"github.com/osa030/duet/internal/app/retry"
	"github.com/osa030/duet/internal/app/validate"
	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// ErrCancelled aborts an attempt when a user pick made the AI pick unnecessary.
var ErrCancelled = errors.New("selection cancelled")

// Recommender suggests songs.
type Recommender interface {
	RecommendNext(ctx context.Context, req recommend.Request) (recommendation.Recommendation, error)
}

// Catalog searches the music catalog.
type Catalog interface {
	SearchTracks(ctx context.Context, query string, pageSize, maxResults int) ([]track.Track, error)
}

// RecencyCache remembers what each persona picked recently.
type RecencyCache interface {
	RecentPicks(ctx context.Context, personaID string) ([]recommendation.Exclusion, error)
	Record(ctx context.Context, personaID, artist, title, artworkURL string) error
}

// Telemetry receives error and diagnostic records. Calls must not block.
type Telemetry interface {
	LogError(ctx context.Context, personaID, stage, message string)
	LogDiagnostic(ctx context.Context, personaID string, record *diagnostic.Record)
}

// Notifier shows notices to users. Calls must not block.
type Notifier interface {
	Notify(message string, severity notification.Severity)
}

// Dependencies are the collaborators of a Coordinator.
type Dependencies struct {
	Recommender Recommender
	Catalog     Catalog
	Matcher     match.Tagged
	Validator   validate.Validator // Defaults to validate.Disabled
	Recency     RecencyCache       // Optional
	Telemetry   Telemetry          // Optional
	Notifier    Notifier           // Optional
}

// Config tunes the pipeline.
type Config struct {
	SearchPageSize          int
	SearchMaxResults        int
	SelectionFailedMessage  string
	ValidationRejectMessage string
}

// Coordinator runs the selection pipeline.
type Coordinator struct {
	deps   Dependencies
	config Config
}

// New creates a new Coordinator.
func New(deps Dependencies, config Config) (*Coordinator, error) {
	if deps.Recommender == nil {
		return nil, errors.New("recommender is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if deps.Matcher.Matcher == nil {
		return nil, errors.New("matcher is required")
	}
	if deps.Validator == nil {
		deps.Validator = validate.Disabled{}
	}
	if config.SearchPageSize <= 0 {
		config.SearchPageSize = 10
	}
	if config.SearchMaxResults <= 0 {
		config.SearchMaxResults = 20
	}
	return &Coordinator{deps: deps, config: config}, nil
}

// Request is the input of one pipeline run.
type Request struct {
	Persona    persona.Persona
	History    []song.Song
	Direction  *recommendation.DirectionOption
	Turn       song.Side
	QueueCount int
	// UserPicked reports whether a user pick was queued since the run started.
	// Nil means never.
	UserPicked    func() bool
	RecordRecency bool
	Diagnostics   bool
}

func (r *Request) userPicked() bool {
	return len(r.History) > 0 && r.UserPicked != nil && r.UserPicked()
}

// Outcome is how a pipeline run ended.
type Outcome int

const (
	OutcomeNoResult Outcome = iota
	OutcomeSelected
	OutcomeCancelled
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSelected:
		return "selected"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "no_result"
	}
}

// FailureReason explains a soft failure.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonNoRecommendation   FailureReason = "no_recommendation"
	ReasonNoMatch            FailureReason = "no_match"
	ReasonNoGoodMatch        FailureReason = "no_good_match"
	ReasonValidationRejected FailureReason = "validation_rejected"
	ReasonAlreadyPlayed      FailureReason = "already_played"
)

// Result is the output of one pipeline run.
type Result struct {
	Outcome        Outcome
	Track          *track.Track
	Rationale      string
	Recommendation recommendation.Recommendation
	Reason         FailureReason // Last soft failure when Outcome is OutcomeNoResult
	Diagnostic     *diagnostic.Record
}

// Selected reports whether the run produced a track.
func (r Result) Selected() bool {
	return r.Outcome == OutcomeSelected && r.Track != nil
}

// Select runs the pipeline with one retry on soft failure. Only hard errors are
// returned as errors; cancellation is reported as OutcomeCancelled.
func (c *Coordinator) Select(ctx context.Context, req Request) (Result, error) {
	run := &run{c: c, req: req}

	res, ok, err := retry.Twice(ctx, "select:"+req.Persona.ID, run.attempt)
	switch {
	case errors.Is(err, ErrCancelled) || ctx.Err() != nil:
		zlog.Debug().Msgf("selection cancelled: persona=%s", req.Persona.ID)
		return Result{Outcome: OutcomeCancelled}, nil
	case err != nil:
		return Result{}, err
	case ok:
		return res, nil
	}

	zlog.Error().Msgf("selection exhausted retry: persona=%s reason=%s", req.Persona.ID, run.reason)
	c.logError(ctx, req.Persona.ID, string(run.reason), "no track after retry: "+run.detail)
	if c.deps.Notifier != nil && c.config.SelectionFailedMessage != "" {
		c.deps.Notifier.Notify(c.config.SelectionFailedMessage, notification.SeverityWarning)
	}
	return Result{Outcome: OutcomeNoResult, Reason: run.reason}, nil
}

// run carries state across the attempts of one Select call.
type run struct {
	c      *Coordinator
	req    Request
	reason FailureReason
	detail string
}

func (r *run) fail(reason FailureReason, detail string) (Result, bool, error) {
	r.reason = reason
	r.detail = detail
	zlog.Warn().Msgf("selection attempt failed: persona=%s reason=%s detail=%s", r.req.Persona.ID, reason, detail)
	return Result{}, false, nil
}

func (r *run) attempt(ctx context.Context) (Result, bool, error) {
	c := r.c
	req := &r.req
	diag := diagnostic.NewBuilder(req.Diagnostics)
	diag.Persona(req.Persona.ID, req.Persona.StyleGuide)
	diag.Context(req.Turn, req.History, req.QueueCount, req.Direction)
	defer c.emitDiagnostic(ctx, req.Persona.ID, diag)

	// 1. Recommend
	rreq := recommend.Request{
		PersonaID:   req.Persona.ID,
		PersonaText: req.Persona.StyleGuide,
		History:     req.History,
		Direction:   req.Direction,
		Exclusions:  c.exclusions(ctx, req.Persona.ID),
	}
	rec, err := c.deps.Recommender.RecommendNext(ctx, rreq)
	if errors.Is(err, recommend.ErrNoRecommendation) {
		return r.fail(ReasonNoRecommendation, err.Error())
	}
	if err != nil {
		return Result{}, false, errors.Wrap(err, "recommendation failed")
	}

	// 2. Repeat guard
	retried := false
	if inHistory(req.History, rec) {
		zlog.Info().Msgf("recommendation already played, asking again: persona=%s song=%q", req.Persona.ID, rec.String())
		retried = true
		rreq.AvoidRepeat = true
		rec, err = c.deps.Recommender.RecommendNext(ctx, rreq)
		if errors.Is(err, recommend.ErrNoRecommendation) {
			return r.fail(ReasonNoRecommendation, err.Error())
		}
		if err != nil {
			return Result{}, false, errors.Wrap(err, "reinforced recommendation failed")
		}
		if inHistory(req.History, rec) {
			diag.Recommendation(rec, retried)
			return r.fail(ReasonAlreadyPlayed, rec.String())
		}
	}
	diag.Recommendation(rec, retried)

	// 3. Checkpoint A
	if req.userPicked() {
		zlog.Debug().Msgf("user picked during recommendation: persona=%s", req.Persona.ID)
		return Result{}, false, ErrCancelled
	}

	// 4. Search
	candidates, query, titleOnly, err := c.search(ctx, rec)
	diag.Search(query, titleOnly, candidates)
	if err != nil {
		return Result{}, false, err
	}
	if len(candidates) == 0 {
		diag.Match(string(c.deps.Matcher.Kind), 0, "no candidates", false, nil)
		return r.fail(ReasonNoMatch, rec.String())
	}

	// 5. Match
	m, err := c.deps.Matcher.FindMatch(ctx, rec, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, false, ctx.Err()
		}
		zlog.Warn().Msgf("matcher failed: kind=%s error=%v", c.deps.Matcher.Kind, err)
		m = match.NoMatch(err.Error())
	}
	diag.Match(string(c.deps.Matcher.Kind), m.Confidence, m.Explanation, m.Accepted(), m.Candidate)
	zlog.Debug().Msgf("match: kind=%s confidence=%.2f explanation=%q", c.deps.Matcher.Kind, m.Confidence, m.Explanation)
	if !m.Accepted() {
		return r.fail(ReasonNoGoodMatch, rec.String())
	}
	picked := *m.Candidate
	if playedTrack(req.History, picked) {
		return r.fail(ReasonAlreadyPlayed, picked.Label())
	}

	// 6. Checkpoint B
	if req.userPicked() {
		zlog.Debug().Msgf("user picked during search: persona=%s", req.Persona.ID)
		return Result{}, false, ErrCancelled
	}

	// 7. Validate
	description := req.Persona.Description
	if description == "" {
		description = req.Persona.StyleGuide
	}
	verdict := c.deps.Validator.Validate(ctx, picked, description)
	diag.Validation(verdict.Status.String(), verdict.ShortSummary, verdict.Reasoning)
	if verdict.Rejected() {
		c.logError(ctx, req.Persona.ID, string(ReasonValidationRejected), picked.Label()+": "+verdict.Reasoning)
		if c.deps.Notifier != nil && c.config.ValidationRejectMessage != "" {
			c.deps.Notifier.Notify(c.config.ValidationRejectMessage, notification.SeverityWarning)
		}
		return r.fail(ReasonValidationRejected, picked.Label())
	}

	// 8. Record
	if req.RecordRecency && c.deps.Recency != nil {
		if err := c.deps.Recency.Record(ctx, req.Persona.ID, rec.Artist, rec.Title, picked.AlbumArtURL); err != nil {
			zlog.Warn().Msgf("failed to record recent pick: persona=%s error=%v", req.Persona.ID, err)
		}
	}
	diag.FinalTrack(picked)

	zlog.Info().Msgf("selected: persona=%s track=%q confidence=%.2f validation=%s",
		req.Persona.ID, picked.Label(), m.Confidence, verdict.Status)

	record, _ := diag.Build()
	return Result{
		Outcome:        OutcomeSelected,
		Track:          &picked,
		Rationale:      rec.Rationale,
		Recommendation: rec,
		Diagnostic:     record,
	}, true, nil
}

// search queries "<artist> <title>", then the title alone when that finds nothing.
func (c *Coordinator) search(ctx context.Context, rec recommendation.Recommendation) ([]track.Track, string, bool, error) {
	query := rec.SearchQuery()
	results, err := c.deps.Catalog.SearchTracks(ctx, query, c.config.SearchPageSize, c.config.SearchMaxResults)
	if err != nil {
		return nil, query, false, errors.Wrapf(err, "search %q failed", query)
	}
	if len(results) > 0 || rec.Artist == "" {
		return results, query, false, nil
	}

	query = rec.Title
	results, err = c.deps.Catalog.SearchTracks(ctx, query, c.config.SearchPageSize, c.config.SearchMaxResults)
	if err != nil {
		return nil, query, true, errors.Wrapf(err, "search %q failed", query)
	}
	return results, query, true, nil
}

func (c *Coordinator) exclusions(ctx context.Context, personaID string) []recommendation.Exclusion {
	if c.deps.Recency == nil {
		return nil
	}
	picks, err := c.deps.Recency.RecentPicks(ctx, personaID)
	if err != nil {
		zlog.Warn().Msgf("failed to load recent picks: persona=%s error=%v", personaID, err)
		return nil
	}
	return picks
}

func (c *Coordinator) logError(ctx context.Context, personaID, stage, message string) {
	if c.deps.Telemetry != nil {
		c.deps.Telemetry.LogError(ctx, personaID, stage, message)
	}
}

func (c *Coordinator) emitDiagnostic(ctx context.Context, personaID string, diag *diagnostic.Builder) {
	if c.deps.Telemetry == nil {
		return
	}
	record, err := diag.Build()
	if err != nil {
		return
	}
	c.deps.Telemetry.LogDiagnostic(ctx, personaID, record)
}

func inHistory(history []song.Song, rec recommendation.Recommendation) bool {
	for i := range history {
		if history[i].Matches(rec.Artist, rec.Title) {
			return true
		}
	}
	return false
}

func playedTrack(history []song.Song, t track.Track) bool {
	for i := range history {
		if track.SameRecording(history[i].Track, t) {
			return true
		}
	}
	return false
}
