// Package diagnostic collects a structured record of one selection pipeline run
// for post-hoc debugging.
package diagnostic

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// MaxCandidates is the number of search candidates kept in a record.
const MaxCandidates = 10

// RecentSongs is the number of history entries kept in the context snapshot.
const RecentSongs = 5

// ErrIncomplete is returned by Build when a required part is missing.
var ErrIncomplete = errors.New("diagnostic record is incomplete")

// Record is the finalized diagnostic of one pipeline run.
type Record struct {
	CreatedAt      time.Time          `json:"created_at"`
	Recommendation RecommendationPart `json:"recommendation"`
	Search         SearchPart         `json:"search"`
	Match          MatchPart          `json:"match"`
	Validation     *ValidationPart    `json:"validation,omitempty"`
	FinalTrack     *TrackPart         `json:"final_track,omitempty"`
	Context        ContextPart        `json:"context"`
	Persona        PersonaPart        `json:"persona"`
}

type RecommendationPart struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
	Retried   bool   `json:"retried"` // Repeat guard re-requested
}

type SearchPart struct {
	Query      string          `json:"query"`
	TitleOnly  bool            `json:"title_only"`
	Total      int             `json:"total"`
	Candidates []CandidatePart `json:"candidates"`
}

type CandidatePart struct {
	Rank     int    `json:"rank"`
	TrackID  string `json:"track_id"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

type MatchPart struct {
	Kind        string  `json:"kind"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
	Accepted    bool    `json:"accepted"`
}

type ValidationPart struct {
	Status    string `json:"status"`
	Summary   string `json:"summary"`
	Reasoning string `json:"reasoning"`
}

type TrackPart struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album"`
	Duration string   `json:"duration"`
	URL      string   `json:"url"`
}

type ContextPart struct {
	Turn         string   `json:"turn"`
	HistoryCount int      `json:"history_count"`
	QueueCount   int      `json:"queue_count"`
	Recent       []string `json:"recent"`
	Direction    string   `json:"direction,omitempty"`
}

type PersonaPart struct {
	ID         string `json:"id"`
	StyleGuide string `json:"style_guide"`
}

// Builder accumulates parts of a Record. A nil *Builder ignores every call, so
// the pipeline can record unconditionally.
type Builder struct {
	record        Record
	hasRecommend  bool
	hasSearch     bool
	hasMatch      bool
	hasContext    bool
	hasPersona    bool
	selectedTrack string
	searchResults []track.Track
}

// NewBuilder returns a builder, or nil when diagnostics are disabled.
func NewBuilder(enabled bool) *Builder {
	if !enabled {
		return nil
	}
	return &Builder{}
}

// Recommendation records what the recommendation service returned.
func (b *Builder) Recommendation(rec recommendation.Recommendation, retried bool) {
	if b == nil {
		return
	}
	b.record.Recommendation = RecommendationPart{
		Artist:    rec.Artist,
		Title:     rec.Title,
		Rationale: rec.Rationale,
		Retried:   retried,
	}
	b.hasRecommend = true
}

// Search records the query and the top candidates.
func (b *Builder) Search(query string, titleOnly bool, results []track.Track) {
	if b == nil {
		return
	}
	b.record.Search = SearchPart{Query: query, TitleOnly: titleOnly, Total: len(results)}
	b.searchResults = results
	b.hasSearch = true
	b.renderCandidates()
}

// Match records the matcher verdict and marks the selected candidate.
func (b *Builder) Match(kind string, confidence float64, explanation string, accepted bool, selected *track.Track) {
	if b == nil {
		return
	}
	b.record.Match = MatchPart{
		Kind:        kind,
		Confidence:  confidence,
		Explanation: explanation,
		Accepted:    accepted,
	}
	b.selectedTrack = ""
	if selected != nil {
		b.selectedTrack = selected.ID
	}
	b.hasMatch = true
	b.renderCandidates()
}

func (b *Builder) renderCandidates() {
	results := b.searchResults
	if len(results) > MaxCandidates {
		results = results[:MaxCandidates]
	}
	candidates := make([]CandidatePart, 0, len(results))
	for i := range results {
		candidates = append(candidates, CandidatePart{
			Rank:     i + 1,
			TrackID:  results[i].ID,
			Label:    results[i].Label(),
			Selected: b.selectedTrack != "" && results[i].ID == b.selectedTrack,
		})
	}
	b.record.Search.Candidates = candidates
}

// Validation records the validator verdict.
func (b *Builder) Validation(status, summary, reasoning string) {
	if b == nil {
		return
	}
	b.record.Validation = &ValidationPart{Status: status, Summary: summary, Reasoning: reasoning}
}

// FinalTrack records the track the pipeline returned.
func (b *Builder) FinalTrack(t track.Track) {
	if b == nil {
		return
	}
	b.record.FinalTrack = &TrackPart{
		ID:       t.ID,
		Name:     t.Name,
		Artists:  append([]string(nil), t.Artists...),
		Album:    t.Album,
		Duration: t.Duration.String(),
		URL:      t.URL,
	}
}

// Context records a snapshot of the session the pick was made for.
func (b *Builder) Context(turn song.Side, history []song.Song, queueCount int, direction *recommendation.DirectionOption) {
	if b == nil {
		return
	}
	recent := history
	if len(recent) > RecentSongs {
		recent = recent[len(recent)-RecentSongs:]
	}
	labels := make([]string, 0, len(recent))
	for i := range recent {
		labels = append(labels, recent[i].Track.Label())
	}
	b.record.Context = ContextPart{
		Turn:         turn.String(),
		HistoryCount: len(history),
		QueueCount:   queueCount,
		Recent:       labels,
	}
	if direction != nil {
		b.record.Context.Direction = direction.Label
	}
	b.hasContext = true
}

// Persona records the persona the pick was made as.
func (b *Builder) Persona(id, styleGuide string) {
	if b == nil {
		return
	}
	b.record.Persona = PersonaPart{ID: id, StyleGuide: styleGuide}
	b.hasPersona = true
}

// Build finalizes the record. It fails when recommendation, search, match,
// context or persona is missing.
func (b *Builder) Build() (*Record, error) {
	if b == nil {
		return nil, errors.Wrap(ErrIncomplete, "diagnostics disabled")
	}
	var missing []string
	if !b.hasRecommend {
		missing = append(missing, "recommendation")
	}
	if !b.hasSearch {
		missing = append(missing, "search")
	}
	if !b.hasMatch {
		missing = append(missing, "match")
	}
	if !b.hasContext {
		missing = append(missing, "context")
	}
	if !b.hasPersona {
		missing = append(missing, "persona")
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrIncomplete, "missing %v", missing)
	}

	record := b.record
	record.CreatedAt = time.Now()
	return &record, nil
}
