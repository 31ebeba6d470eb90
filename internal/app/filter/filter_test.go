package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

func TestMarketFilter_Check(t *testing.T) {
	playable := true
	blocked := false

	tests := []struct {
		name         string
		filterMarket string
		trackMarkets []string
		isPlayable   *bool
		wantAccepted bool
		wantCode     string
	}{
		{
			name:         "track available in market",
			filterMarket: "JP",
			trackMarkets: []string{"JP", "US", "UK"},
			wantAccepted: true,
		},
		{
			name:         "track not available in market",
			filterMarket: "JP",
			trackMarkets: []string{"US", "UK"},
			wantAccepted: false,
			wantCode:     "market_restriction",
		},
		{
			name:         "no market filter",
			filterMarket: "",
			trackMarkets: []string{"US"},
			wantAccepted: true,
		},
		{
			name:         "relinked track is playable",
			filterMarket: "JP",
			isPlayable:   &playable,
			wantAccepted: true,
		},
		{
			name:         "no market data",
			filterMarket: "JP",
			wantAccepted: false,
			wantCode:     "market_restriction",
		},
		{
			name:         "relinked track is not playable",
			filterMarket: "JP",
			trackMarkets: []string{"JP"},
			isPlayable:   &blocked,
			wantAccepted: false,
			wantCode:     "market_restriction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := NewMarketFilter(tt.filterMarket)
			trk := track.Track{ID: "test-track", Markets: tt.trackMarkets, IsPlayable: tt.isPlayable}

			result := filter.Check(context.Background(), trk)
			assert.Equal(t, tt.wantAccepted, result.Accepted,
				"MarketFilter.Check() accepted status mismatch")
			if !tt.wantAccepted {
				assert.Equal(t, tt.wantCode, result.Code,
					"MarketFilter.Check() rejection code mismatch")
			}
		})
	}
}

func TestMarketFilter_AppliesTo(t *testing.T) {
	filter := NewMarketFilter("JP")
	assert.True(t, filter.AppliesTo(song.SideUser))
	assert.True(t, filter.AppliesTo(song.SideAI))
}

type stubFilter struct {
	name    string
	side    song.Side
	result  Result
	checked int
}

func (f *stubFilter) Name() string                                 { return f.name }
func (f *stubFilter) Description() string                          { return "" }
func (f *stubFilter) ReturnCodes() []string                        { return nil }
func (f *stubFilter) ValidateConfig(settings map[string]any) error { return nil }
func (f *stubFilter) AppliesTo(side song.Side) bool                { return side == f.side }
func (f *stubFilter) Check(ctx context.Context, t track.Track) Result {
	f.checked++
	return f.result
}

func TestChain_Execute(t *testing.T) {
	aiOnly := &stubFilter{name: "ai", side: song.SideAI, result: Reject("ai_only")}
	userReject := &stubFilter{name: "user", side: song.SideUser, result: Reject("first")}
	userLater := &stubFilter{name: "later", side: song.SideUser, result: Reject("second")}

	chain := NewChain()
	chain.Add(aiOnly)
	chain.Add(userReject)
	chain.Add(userLater)
	assert.Len(t, chain.Filters(), 3)

	result := chain.Execute(context.Background(), track.Track{}, song.SideUser)
	assert.Equal(t, Result{Code: "first", Filter: "user"}, result)
	assert.Zero(t, aiOnly.checked, "filters for other sides are skipped")
	assert.Zero(t, userLater.checked, "stops at the first rejection")

	assert.Equal(t, Accept(), NewChain().Execute(context.Background(), track.Track{}, song.SideUser))
}

func TestChain_ReturnCodes(t *testing.T) {
	chain := NewChain()
	chain.Add(NewMarketFilter("JP"))
	chain.Add(NewDuplicateTrackFilter(&mockSongSource{}))
	chain.Add(NewDurationLimitFilter())
	chain.Add(NewMarketFilter("US"))

	assert.Equal(t, []string{"market_restriction", "duplicate_track", "duration_limit_exceeded"}, chain.ReturnCodes())
}

func TestChain_Execute_AIPick(t *testing.T) {
	blocked := false
	chain := NewChain()
	chain.Add(NewMarketFilter("JP"))
	chain.Add(NewDuplicateTrackFilter(&mockSongSource{history: []song.Song{songOf("t1", "Song", "Artist")}}))

	result := chain.Execute(context.Background(), track.Track{ID: "t1", Markets: []string{"JP"}}, song.SideAI)
	assert.True(t, result.Accepted, "the AI's repeats are handled by the selector")

	result = chain.Execute(context.Background(), track.Track{ID: "t2", IsPlayable: &blocked}, song.SideAI)
	assert.False(t, result.Accepted)
	assert.Equal(t, "market_filter", result.Filter)
	assert.Equal(t, "relinked track is not playable in JP", result.Detail)
}

func TestRegistry(t *testing.T) {
	factory, ok := GetRegistered()["duration_limit_filter"]
	assert.True(t, ok)
	assert.Equal(t, "duration_limit_filter", factory().Name())
	assert.Contains(t, Names(), "duration_limit_filter")

	assert.Panics(t, func() {
		Register("duration_limit_filter", func() Filter { return NewDurationLimitFilter() })
	})
}
