// Package match picks the catalog candidate that best fits a recommendation.
package match

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/track"
)

// AcceptThreshold is the minimum confidence for a match to be used.
const AcceptThreshold = 0.5

// Kind labels a matcher implementation in logs and diagnostics.
type Kind string

const (
	KindStringBased Kind = "string_based"
	KindLLMBased    Kind = "llm_based"
)

// Result is the outcome of matching. Candidate is nil when nothing matched.
type Result struct {
	Candidate   *track.Track
	Index       int // Rank of the candidate in the search results, -1 if none
	Confidence  float64
	Explanation string
}

// Accepted reports whether the result clears AcceptThreshold.
func (r Result) Accepted() bool {
	return r.Candidate != nil && r.Confidence >= AcceptThreshold
}

// Matcher finds the best candidate for a recommendation.
// Implementations must not modify the candidates.
type Matcher interface {
	FindMatch(ctx context.Context, rec recommendation.Recommendation, candidates []track.Track) (Result, error)
}

// Tagged pairs a matcher with its kind.
type Tagged struct {
	Kind    Kind
	Matcher Matcher
}

// FindMatch delegates to the wrapped matcher.
func (t Tagged) FindMatch(ctx context.Context, rec recommendation.Recommendation, candidates []track.Track) (Result, error) {
	if t.Matcher == nil {
		return Result{Index: -1}, errors.Newf("matcher %s is not configured", t.Kind)
	}
	return t.Matcher.FindMatch(ctx, rec, candidates)
}

// NoMatch returns an empty result with the given explanation.
func NoMatch(explanation string) Result {
	return Result{Index: -1, Explanation: explanation}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
