package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/infra/llm"
)

// JSONCompleter is the part of the LLM client used by the provider.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, messages []llm.Message, out any) error
}

type LLMProviderConfig struct {
	HistoryLimit   int `yaml:"history_limit" mapstructure:"history_limit" default:"20" validate:"gte=1,lte=200"`
	ExclusionLimit int `yaml:"exclusion_limit" mapstructure:"exclusion_limit" default:"50" validate:"gte=0,lte=500"`
}

// LLMProvider asks a language model, speaking as the persona, for the next song.
type LLMProvider struct {
	llm    JSONCompleter
	config *LLMProviderConfig
}

// NewLLMProvider creates a new LLMProvider.
func NewLLMProvider(c JSONCompleter, settings map[string]any) (*LLMProvider, error) {
	if c == nil {
		return nil, errors.New("llm client is required")
	}

	var config LLMProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &LLMProvider{llm: c, config: &config}, nil
}

// Name returns the provider name.
func (p *LLMProvider) Name() string {
	return "llm"
}

type llmRecommendation struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
}

type llmDirections struct {
	Options []struct {
		Label  string `json:"label"`
		Prompt string `json:"prompt"`
	} `json:"options"`
}

// RecommendNext asks the model for one song.
func (p *LLMProvider) RecommendNext(ctx context.Context, req Request) (recommendation.Recommendation, error) {
	var reply llmRecommendation
	if err := p.llm.CompleteJSON(ctx, p.nextMessages(req), &reply); err != nil {
		return recommendation.Recommendation{}, errors.Wrap(err, "llm recommendation failed")
	}

	rec := recommendation.Recommendation{
		Artist:    strings.TrimSpace(reply.Artist),
		Title:     strings.TrimSpace(reply.Title),
		Rationale: strings.TrimSpace(reply.Rationale),
	}
	if rec.IsEmpty() {
		return recommendation.Recommendation{}, ErrNoRecommendation
	}
	return rec, nil
}

func (p *LLMProvider) nextMessages(req Request) []llm.Message {
	system := fmt.Sprintf(`You are a DJ taking turns with a human DJ. Stay in character.
Persona:
%s

Pick exactly one real, commercially released song that flows from what has played.
Reply with JSON: {"artist": "...", "title": "...", "rationale": "<one or two sentences in the persona's voice>"}`,
		req.PersonaText)

	var b strings.Builder
	fmt.Fprintf(&b, "Played so far:\n%s\n", describeHistory(req.History, p.config.HistoryLimit))

	if len(req.Exclusions) > 0 {
		exclusions := req.Exclusions
		if len(exclusions) > p.config.ExclusionLimit {
			exclusions = exclusions[:p.config.ExclusionLimit]
		}
		b.WriteString("\nYou picked these recently; do not pick them again:\n")
		for _, ex := range exclusions {
			fmt.Fprintf(&b, "- %q by %s\n", ex.Title, ex.Artist)
		}
	}
	if req.Direction != nil && req.Direction.Prompt != "" {
		fmt.Fprintf(&b, "\nThe user asked to change direction: %s\n", req.Direction.Prompt)
	}
	if req.AvoidRepeat {
		b.WriteString("\nYour previous suggestion was already played this session. Do NOT repeat any song listed above; choose a different one.\n")
	}
	if len(req.History) == 0 {
		b.WriteString("\nThis is the opening song of the session.\n")
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// RecommendDirectionChange asks the model for stylistic pivots.
func (p *LLMProvider) RecommendDirectionChange(ctx context.Context, req DirectionRequest) ([]recommendation.DirectionOption, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Played so far:\n%s\n", describeHistory(req.History, p.config.HistoryLimit))
	if len(req.Previous) > 0 {
		b.WriteString("\nAlready offered, do not repeat:\n")
		for _, o := range req.Previous {
			fmt.Fprintf(&b, "- %s\n", o.Label)
		}
	}

	system := fmt.Sprintf(`You are a DJ with this persona:
%s

Offer %d distinct directions the set could take next.
Reply with JSON: {"options": [{"label": "<2-4 words>", "prompt": "<instruction for picking the next song>"}]}`,
		req.PersonaText, DirectionOptionCount)

	var reply llmDirections
	err := p.llm.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: b.String()},
	}, &reply)
	if err != nil {
		return nil, errors.Wrap(err, "llm direction change failed")
	}

	options := make([]recommendation.DirectionOption, 0, len(reply.Options))
	for _, o := range reply.Options {
		options = append(options, recommendation.DirectionOption{
			Label:  strings.TrimSpace(o.Label),
			Prompt: strings.TrimSpace(o.Prompt),
		})
	}
	return options, nil
}
