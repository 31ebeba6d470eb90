package recommend

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

type fakeProvider struct {
	name    string
	rec     recommendation.Recommendation
	err     error
	options []recommendation.DirectionOption
	optErr  error
	calls   int
}

func (f *fakeProvider) RecommendNext(ctx context.Context, req Request) (recommendation.Recommendation, error) {
	f.calls++
	return f.rec, f.err
}

func (f *fakeProvider) RecommendDirectionChange(ctx context.Context, req DirectionRequest) ([]recommendation.DirectionOption, error) {
	return f.options, f.optErr
}

func (f *fakeProvider) Name() string { return f.name }

func chainOf(providers ...*fakeProvider) *Chain {
	var pm []ProviderWithMetadata
	for _, p := range providers {
		pm = append(pm, ProviderWithMetadata{Provider: p, DisplayName: p.name})
	}
	return NewChain(pm)
}

func TestChain_RecommendNext(t *testing.T) {
	song := recommendation.Recommendation{Artist: "Nina Simone", Title: "Feeling Good"}

	tests := []struct {
		name      string
		providers []*fakeProvider
		want      recommendation.Recommendation
		wantEmpty bool // error Is ErrNoRecommendation
		wantErr   bool
	}{
		{
			name:      "first provider answers",
			providers: []*fakeProvider{{name: "a", rec: song}, {name: "b"}},
			want:      song,
		},
		{
			name:      "falls through a failing provider",
			providers: []*fakeProvider{{name: "a", err: errors.New("boom")}, {name: "b", rec: song}},
			want:      song,
		},
		{
			name:      "empty answer counts as no recommendation",
			providers: []*fakeProvider{{name: "a"}, {name: "b", err: ErrNoRecommendation}},
			wantEmpty: true,
			wantErr:   true,
		},
		{
			name:      "hard failure surfaces",
			providers: []*fakeProvider{{name: "a", err: ErrNoRecommendation}, {name: "b", err: errors.New("quota")}},
			wantErr:   true,
		},
		{
			name:      "no providers",
			wantEmpty: true,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := chainOf(tt.providers...).RecommendNext(context.Background(), Request{})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantEmpty, errors.Is(err, ErrNoRecommendation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec)
		})
	}
}

func TestChain_RecommendNext_ReturnsRepeats(t *testing.T) {
	played := song.New(track.Track{ID: "t1", Name: "Feeling Good", Artists: []string{"Nina Simone"}}, song.SideAI, "", song.StatusPlayed)
	repeat := recommendation.Recommendation{Artist: "Nina Simone", Title: "Feeling Good"}
	a := &fakeProvider{name: "a", rec: repeat}
	b := &fakeProvider{name: "b", rec: recommendation.Recommendation{Artist: "Bill Withers", Title: "Grandma's Hands"}}

	rec, err := chainOf(a, b).RecommendNext(context.Background(), Request{History: []song.Song{played}})
	require.NoError(t, err)
	assert.Equal(t, repeat, rec, "repeat handling is left to the caller")
	assert.Zero(t, b.calls)
}

func TestChain_RecommendNext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakeProvider{name: "a", rec: recommendation.Recommendation{Title: "x"}}
	_, err := chainOf(p).RecommendNext(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.calls)
}

func TestChain_RecommendDirectionChange(t *testing.T) {
	previous := []recommendation.DirectionOption{{Label: "Jazz"}}

	t.Run("skips unsupported and repeated options", func(t *testing.T) {
		c := chainOf(
			&fakeProvider{name: "playlist", optErr: ErrUnsupported},
			&fakeProvider{name: "llm", options: []recommendation.DirectionOption{
				{Label: "jazz"}, {Label: "Disco"}, {Label: "Dub"}, {Label: "House"},
			}},
		)
		options, err := c.RecommendDirectionChange(context.Background(), DirectionRequest{Previous: previous})
		require.NoError(t, err)
		assert.Equal(t, []recommendation.DirectionOption{{Label: "Disco"}, {Label: "Dub"}}, options)
	})

	t.Run("too few new options", func(t *testing.T) {
		c := chainOf(&fakeProvider{name: "llm", options: []recommendation.DirectionOption{{Label: "Jazz"}, {Label: "Funk"}}})
		_, err := c.RecommendDirectionChange(context.Background(), DirectionRequest{Previous: previous})
		require.Error(t, err)
	})

	t.Run("nobody supports it", func(t *testing.T) {
		c := chainOf(&fakeProvider{name: "playlist", optErr: ErrUnsupported})
		_, err := c.RecommendDirectionChange(context.Background(), DirectionRequest{})
		require.ErrorIs(t, err, ErrUnsupported)
	})
}
