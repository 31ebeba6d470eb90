package match

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/track"
)

// StringMatcher scores candidates by normalized title and artist similarity.
// A strong title match with the wrong artist (a cover) stays below AcceptThreshold.
type StringMatcher struct{}

// NewStringMatcher creates a string based matcher.
func NewStringMatcher() *StringMatcher {
	return &StringMatcher{}
}

// FindMatch returns the highest scoring candidate. Ties keep the earlier rank.
func (m *StringMatcher) FindMatch(ctx context.Context, rec recommendation.Recommendation, candidates []track.Track) (Result, error) {
	if len(candidates) == 0 {
		return NoMatch("no candidates"), nil
	}

	wantTitle := track.NormalizeTitle(rec.Title)
	titles := make([]string, len(candidates))
	for i := range candidates {
		titles[i] = track.NormalizeTitle(candidates[i].Name)
	}

	// Subsequence matches of the recommended title within candidate titles.
	fuzzyScore := make(map[int]float64)
	if wantTitle != "" {
		for _, fm := range fuzzy.Find(wantTitle, titles) {
			coverage := float64(utf8.RuneCountInString(wantTitle)) / float64(max(1, utf8.RuneCountInString(fm.Str)))
			fuzzyScore[fm.Index] = 0.5 + 0.4*clamp01(coverage)
		}
	}

	best := NoMatch("no candidate resembles the recommendation")
	bestTitle, bestArtist := 0.0, 0.0
	for i := range candidates {
		titleScore := 0.0
		switch {
		case titles[i] == wantTitle && wantTitle != "":
			titleScore = 1
		default:
			titleScore = max(fuzzyScore[i], 0.8*tokenJaccard(wantTitle, titles[i]))
		}
		artistScore := bestArtistScore(rec.Artist, candidates[i].Artists)

		confidence := clamp01(titleScore * (0.4 + 0.6*artistScore))
		if confidence > best.Confidence {
			best = Result{
				Candidate:  &candidates[i],
				Index:      i,
				Confidence: confidence,
			}
			bestTitle, bestArtist = titleScore, artistScore
		}
	}

	if best.Candidate != nil {
		best.Explanation = fmt.Sprintf("%q by %s at rank %d: title %.2f, artist %.2f",
			best.Candidate.Name, best.Candidate.ArtistLine(), best.Index+1, bestTitle, bestArtist)
	}
	return best, nil
}

func bestArtistScore(want string, artists []string) float64 {
	want = normalizeName(want)
	if want == "" {
		return 0
	}
	best := 0.0
	for _, a := range artists {
		got := normalizeName(a)
		switch {
		case got == want:
			return 1
		case got != "" && (strings.Contains(got, want) || strings.Contains(want, got)):
			best = max(best, 0.8)
		default:
			best = max(best, tokenJaccard(want, got))
		}
	}
	return best
}

// normalizeName lowercases and drops a leading "the ".
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "the ")
}

func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[f] = struct{}{}
	}
	return set
}

func tokenJaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}
