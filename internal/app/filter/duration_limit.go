package filter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// DurationLimitConfig bounds how long one turn's song may run.
type DurationLimitConfig struct {
	MinMinutes float64 `yaml:"min_minutes" mapstructure:"min_minutes" default:"1" validate:"gte=1"`
	MaxMinutes float64 `yaml:"max_minutes" mapstructure:"max_minutes" validate:"gte=0"` // 0 means no upper limit
	AIPicks    bool    `yaml:"ai_picks" mapstructure:"ai_picks"`                        // Hold the AI's picks to the same limits
}

// DurationLimitFilter keeps each turn's song within a length range. Songs of
// unknown length are refused because playback progress cannot be tracked.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a filter with no limits until ValidateConfig.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Keeps each turn's song between min_minutes and max_minutes"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{"duration_limit_exceeded"}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	if config.MaxMinutes > 0 && config.MinMinutes > config.MaxMinutes {
		return errors.New("min_minutes cannot be greater than max_minutes")
	}

	f.config = &config
	zlog.Info().Msgf("duration limit: min=%.1fm max=%.1fm ai_picks=%t", config.MinMinutes, config.MaxMinutes, config.AIPicks)
	return nil
}

func (f *DurationLimitFilter) AppliesTo(side song.Side) bool {
	if side == song.SideAI {
		return f.config != nil && f.config.AIPicks
	}
	return side == song.SideUser
}

func (f *DurationLimitFilter) Check(ctx context.Context, t track.Track) Result {
	if f.config == nil {
		return Accept()
	}
	if t.Duration <= 0 {
		return Rejectf("duration_limit_exceeded", "unknown duration")
	}

	shortest := minutes(f.config.MinMinutes)
	if t.Duration < shortest {
		return Rejectf("duration_limit_exceeded", "runs %s, shorter than %s", t.Duration, shortest)
	}
	if f.config.MaxMinutes > 0 {
		if longest := minutes(f.config.MaxMinutes); t.Duration > longest {
			return Rejectf("duration_limit_exceeded", "runs %s, longer than %s", t.Duration, longest)
		}
	}
	return Accept()
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return NewDurationLimitFilter()
	})
}
