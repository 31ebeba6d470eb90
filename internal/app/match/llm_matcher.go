package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/llm"
)

// JSONCompleter is the part of the LLM client used by the matcher.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, messages []llm.Message, out any) error
}

// LLMMatcher asks a language model to pick the candidate.
type LLMMatcher struct {
	llm JSONCompleter
}

// NewLLMMatcher creates an LLM based matcher.
func NewLLMMatcher(c JSONCompleter) *LLMMatcher {
	return &LLMMatcher{llm: c}
}

type llmMatchReply struct {
	Index       int     `json:"index"` // 1-based, 0 for none
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

const matchSystemPrompt = `You match a song recommendation to catalog search results.
Prefer the original studio recording by the recommended artist. Covers, karaoke and tribute versions are wrong.
Reply with JSON: {"index": <1-based candidate number or 0 if none fit>, "confidence": <0..1>, "explanation": "<one sentence>"}`

// FindMatch returns the model's pick.
func (m *LLMMatcher) FindMatch(ctx context.Context, rec recommendation.Recommendation, candidates []track.Track) (Result, error) {
	if len(candidates) == 0 {
		return NoMatch("no candidates"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recommendation: %q by %q\n\nCandidates:\n", rec.Title, rec.Artist)
	for i := range candidates {
		c := &candidates[i]
		fmt.Fprintf(&b, "%d. %q by %s (album %q)\n", i+1, c.Name, c.ArtistLine(), c.Album)
	}

	var reply llmMatchReply
	err := m.llm.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: matchSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}, &reply)
	if err != nil {
		return NoMatch("matcher unavailable"), errors.Wrap(err, "llm match failed")
	}

	if reply.Index < 1 || reply.Index > len(candidates) {
		return NoMatch(reply.Explanation), nil
	}
	idx := reply.Index - 1
	return Result{
		Candidate:   &candidates[idx],
		Index:       idx,
		Confidence:  clamp01(reply.Confidence),
		Explanation: reply.Explanation,
	}, nil
}
