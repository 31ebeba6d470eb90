package recommend

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/recommendation"
)

// DirectionOptionCount is the number of options offered for a direction change.
const DirectionOptionCount = 2

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// Chain tries providers in order until one answers.
type Chain struct {
	providers []ProviderWithMetadata
}

// NewChain creates a new provider chain.
func NewChain(providers []ProviderWithMetadata) *Chain {
	return &Chain{providers: providers}
}

// RecommendNext returns the first non-empty suggestion, falling through to the
// next provider on errors. Repeats are not filtered here; the selection
// coordinator re-requests with AvoidRepeat set.
// If every provider only had nothing to suggest, the error is ErrNoRecommendation.
func (c *Chain) RecommendNext(ctx context.Context, req Request) (recommendation.Recommendation, error) {
	var lastErr error
	onlyEmpty := true

	for i, pm := range c.providers {
		if err := ctx.Err(); err != nil {
			return recommendation.Recommendation{}, err
		}
		zlog.Debug().Msgf("trying recommendation provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		rec, err := pm.Provider.RecommendNext(ctx, req)
		if err == nil && rec.IsEmpty() {
			err = ErrNoRecommendation
		}
		if err != nil {
			if ctx.Err() != nil {
				return recommendation.Recommendation{}, err
			}
			if !errors.Is(err, ErrNoRecommendation) {
				onlyEmpty = false
			}
			lastErr = errors.Wrapf(err, "provider %s", pm.DisplayName)
			zlog.Warn().Msgf("recommendation provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			continue
		}

		zlog.Info().Msgf("recommendation: provider=%s artist=%q title=%q", pm.DisplayName, rec.Artist, rec.Title)
		return rec, nil
	}

	if lastErr == nil {
		return recommendation.Recommendation{}, errors.Wrap(ErrNoRecommendation, "no recommendation providers configured")
	}
	if onlyEmpty {
		return recommendation.Recommendation{}, lastErr
	}
	return recommendation.Recommendation{}, errors.Wrap(lastErr, "all recommendation providers failed")
}

// RecommendDirectionChange returns DirectionOptionCount options from the first
// provider able to produce enough new ones.
func (c *Chain) RecommendDirectionChange(ctx context.Context, req DirectionRequest) ([]recommendation.DirectionOption, error) {
	var lastErr error
	for _, pm := range c.providers {
		options, err := pm.Provider.RecommendDirectionChange(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if !errors.Is(err, ErrUnsupported) {
				lastErr = errors.Wrapf(err, "provider %s", pm.DisplayName)
				zlog.Warn().Msgf("direction change failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			}
			continue
		}

		options = dedupeOptions(options, req.Previous, DirectionOptionCount)
		if len(options) < DirectionOptionCount {
			lastErr = errors.Newf("provider %s returned %d new options", pm.DisplayName, len(options))
			continue
		}
		return options, nil
	}

	if lastErr == nil {
		return nil, errors.Wrap(ErrUnsupported, "no provider supports direction changes")
	}
	return nil, lastErr
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "provider_chain"
}
