package validate

import (
	"context"
	"fmt"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/llm"
)

// JSONCompleter is the part of the LLM client used by the validator.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, messages []llm.Message, out any) error
}

// LLMValidator asks a language model whether a track suits the persona.
type LLMValidator struct {
	llm JSONCompleter
}

// NewLLMValidator creates an LLM based validator. A nil client yields a
// validator that is always unavailable.
func NewLLMValidator(c JSONCompleter) *LLMValidator {
	return &LLMValidator{llm: c}
}

type llmVerdict struct {
	IsValid      bool   `json:"isValid"`
	ShortSummary string `json:"shortSummary"`
	Reasoning    string `json:"reasoning"`
}

const validateSystemPrompt = `You are the music director for a DJ persona. Decide whether a track fits the persona.
Be permissive: reject only clear mismatches of genre, era or mood.
Reply with JSON: {"isValid": <bool>, "shortSummary": "<five words>", "reasoning": "<one or two sentences>"}`

// Validate returns the model's verdict, or unavailable if the model cannot be reached.
func (v *LLMValidator) Validate(ctx context.Context, t track.Track, personaDescription string) Verdict {
	if v.llm == nil {
		return Unavailable("no model configured")
	}
	if strings.TrimSpace(personaDescription) == "" {
		return Unavailable("persona has no description")
	}

	prompt := fmt.Sprintf("Persona:\n%s\n\nTrack: %q by %s from %q (popularity %d)",
		personaDescription, t.Name, t.ArtistLine(), t.Album, t.Popularity)

	var reply llmVerdict
	err := v.llm.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: validateSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, &reply)
	if err != nil {
		zlog.Warn().Err(err).Msgf("validator unavailable: track=%s", t.Label())
		return Unavailable(err.Error())
	}

	status := StatusAccepted
	if !reply.IsValid {
		status = StatusRejected
	}
	return Verdict{
		Status:       status,
		ShortSummary: reply.ShortSummary,
		Reasoning:    reply.Reasoning,
	}
}
