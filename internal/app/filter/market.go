package filter

import (
	"context"

	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// MarketFilter refuses picks the device cannot play in the session's market.
// It is always part of the chain; an empty market disables it.
type MarketFilter struct {
	market string
}

// NewMarketFilter creates a filter for the Spotify market the session plays in.
func NewMarketFilter(market string) *MarketFilter {
	return &MarketFilter{market: market}
}

func (f *MarketFilter) Name() string {
	return "market_filter"
}

func (f *MarketFilter) Description() string {
	return "Refuses songs that cannot be played in the session's market"
}

func (f *MarketFilter) ReturnCodes() []string {
	return []string{"market_restriction"}
}

func (f *MarketFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

// AppliesTo covers picks from either side.
func (f *MarketFilter) AppliesTo(side song.Side) bool {
	return true
}

func (f *MarketFilter) Check(ctx context.Context, t track.Track) Result {
	if f.market == "" {
		return Accept()
	}

	switch {
	case t.IsPlayable != nil && !*t.IsPlayable:
		return Rejectf("market_restriction", "relinked track is not playable in %s", f.market)
	case t.IsPlayable == nil && !t.IsAvailableInMarket(f.market):
		return Rejectf("market_restriction", "not released in %s (markets=%d)", f.market, len(t.Markets))
	}
	return Accept()
}
