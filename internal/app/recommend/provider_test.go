package recommend

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/lastfm"
	"github.com/osa030/duet/internal/infra/llm"
)

func played(artist, title string) song.Song {
	return song.New(track.Track{ID: title, Name: title, Artists: []string{artist}}, song.SideUser, "", song.StatusPlayed)
}

type fakeCompleter struct {
	reply    string
	err      error
	messages []llm.Message
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, messages []llm.Message, out any) error {
	f.messages = messages
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.reply), out)
}

func TestLLMProvider_RecommendNext(t *testing.T) {
	c := &fakeCompleter{reply: `{"artist":" Nina Simone ","title":"Feeling Good","rationale":"Sunrise."}`}
	p, err := NewLLMProvider(c, nil)
	require.NoError(t, err)

	rec, err := p.RecommendNext(context.Background(), Request{
		PersonaText: "Soulful night DJ",
		History:     []song.Song{played("Bill Withers", "Lovely Day")},
		Direction:   &recommendation.DirectionOption{Label: "Jazz", Prompt: "go jazzier"},
		Exclusions:  []recommendation.Exclusion{{Artist: "Otis Redding", Title: "Try a Little Tenderness"}},
		AvoidRepeat: true,
	})
	require.NoError(t, err)
	assert.Equal(t, recommendation.Recommendation{Artist: "Nina Simone", Title: "Feeling Good", Rationale: "Sunrise."}, rec)

	require.Len(t, c.messages, 2)
	assert.Contains(t, c.messages[0].Content, "Soulful night DJ")
	user := c.messages[1].Content
	assert.Contains(t, user, "Lovely Day")
	assert.Contains(t, user, "go jazzier")
	assert.Contains(t, user, "Try a Little Tenderness")
	assert.Contains(t, user, "Do NOT repeat")
}

func TestLLMProvider_EmptyAndError(t *testing.T) {
	p, err := NewLLMProvider(&fakeCompleter{reply: `{"artist":"x","title":"  "}`}, nil)
	require.NoError(t, err)
	_, err = p.RecommendNext(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoRecommendation)

	p, err = NewLLMProvider(&fakeCompleter{err: errors.New("503")}, nil)
	require.NoError(t, err)
	_, err = p.RecommendNext(context.Background(), Request{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoRecommendation))

	_, err = NewLLMProvider(nil, nil)
	assert.Error(t, err)

	_, err = NewLLMProvider(&fakeCompleter{}, map[string]any{"history_limit": -1})
	assert.Error(t, err)
}

func TestLLMProvider_RecommendDirectionChange(t *testing.T) {
	c := &fakeCompleter{reply: `{"options":[{"label":" Disco ","prompt":"four on the floor"},{"label":"Dub","prompt":"slow it down"}]}`}
	p, err := NewLLMProvider(c, nil)
	require.NoError(t, err)

	options, err := p.RecommendDirectionChange(context.Background(), DirectionRequest{
		Previous: []recommendation.DirectionOption{{Label: "Jazz"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []recommendation.DirectionOption{
		{Label: "Disco", Prompt: "four on the floor"},
		{Label: "Dub", Prompt: "slow it down"},
	}, options)
	assert.Contains(t, c.messages[1].Content, "Jazz")
}

type fakeLastFm struct {
	similar map[string][]lastfm.Song
	tags    map[string][]lastfm.Tag
	tagTop  map[string][]lastfm.Song
	chart   []lastfm.Song
}

func (f *fakeLastFm) GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Song, error) {
	return f.similar[trackName], nil
}

func (f *fakeLastFm) GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Tag, error) {
	tags, ok := f.tags[trackName]
	if !ok {
		return nil, errors.New("not found")
	}
	return tags, nil
}

func (f *fakeLastFm) GetTagTopTracks(ctx context.Context, tagName string, limit int) ([]lastfm.Song, error) {
	return f.tagTop[tagName], nil
}

func (f *fakeLastFm) GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.Song, error) {
	return f.chart, nil
}

func newTestLastFm(t *testing.T, client LastFmClient, settings map[string]any) *LastFmProvider {
	t.Helper()
	config, err := decodeLastFmConfig(settings)
	require.NoError(t, err)
	return newLastFmProvider(client, config)
}

func TestLastFmProvider_RecommendNext(t *testing.T) {
	client := &fakeLastFm{
		similar: map[string][]lastfm.Song{
			"Lovely Day": {
				{Name: "Lovely Day", Artist: "Bill Withers"},
				{Name: "Ain't No Sunshine", Artist: "Bill Withers"},
				{Name: "Use Me", Artist: "Bill Withers"},
			},
		},
		tags:   map[string][]lastfm.Tag{"Lovely Day": {{Name: "soul", Count: 100}}},
		tagTop: map[string][]lastfm.Song{"soul": {{Name: "Use Me", Artist: "Bill Withers"}, {Name: "Respect", Artist: "Aretha Franklin"}}},
		chart:  []lastfm.Song{{Name: "Chart Hit", Artist: "Someone"}},
	}

	t.Run("found by both strategies wins with pool size 1", func(t *testing.T) {
		p := newTestLastFm(t, client, map[string]any{"pool_size": 1})
		rec, err := p.RecommendNext(context.Background(), Request{History: []song.Song{played("Bill Withers", "Lovely Day")}})
		require.NoError(t, err)
		assert.Equal(t, "Use Me", rec.Title)
		assert.NotEmpty(t, rec.Rationale)
	})

	t.Run("never suggests played or excluded songs", func(t *testing.T) {
		p := newTestLastFm(t, client, nil)
		req := Request{
			History:    []song.Song{played("Bill Withers", "Lovely Day")},
			Exclusions: []recommendation.Exclusion{{Artist: "bill withers", Title: "use me"}},
		}
		for range 20 {
			rec, err := p.RecommendNext(context.Background(), req)
			require.NoError(t, err)
			assert.NotEqual(t, "Lovely Day", rec.Title)
			assert.NotEqual(t, "Use Me", rec.Title)
		}
	})

	t.Run("opening uses the chart", func(t *testing.T) {
		p := newTestLastFm(t, client, nil)
		rec, err := p.RecommendNext(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "Chart Hit", rec.Title)
	})

	t.Run("direction label steers by tag", func(t *testing.T) {
		p := newTestLastFm(t, client, map[string]any{"pool_size": 1})
		rec, err := p.RecommendNext(context.Background(), Request{
			History:   []song.Song{played("Bill Withers", "Lovely Day")},
			Direction: &recommendation.DirectionOption{Label: "soul"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Use Me", rec.Title)
		assert.True(t, strings.Contains(rec.Rationale, "soul"))
	})

	t.Run("nothing left", func(t *testing.T) {
		p := newTestLastFm(t, &fakeLastFm{}, nil)
		_, err := p.RecommendNext(context.Background(), Request{History: []song.Song{played("A", "B")}})
		assert.ErrorIs(t, err, ErrNoRecommendation)
	})
}

func TestLastFmProvider_RecommendDirectionChange(t *testing.T) {
	client := &fakeLastFm{tags: map[string][]lastfm.Tag{
		"Lovely Day": {{Name: "soul", Count: 100}, {Name: "funk", Count: 60}, {Name: "70s", Count: 40}},
	}}
	p := newTestLastFm(t, client, nil)

	options, err := p.RecommendDirectionChange(context.Background(), DirectionRequest{History: []song.Song{played("Bill Withers", "Lovely Day")}})
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "funk", options[0].Label)
	assert.Equal(t, "70s", options[1].Label)

	_, err = p.RecommendDirectionChange(context.Background(), DirectionRequest{})
	assert.ErrorIs(t, err, ErrNoRecommendation)
}

type fakePlaylist struct {
	tracks []track.Track
	err    error
}

func (f *fakePlaylist) GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error) {
	return f.tracks, f.err
}

func TestPlaylistProvider(t *testing.T) {
	src := &fakePlaylist{tracks: []track.Track{
		{ID: "1", Name: "Lovely Day", Artists: []string{"Bill Withers"}},
		{ID: "2", Name: "Respect", Artists: []string{"Aretha Franklin"}},
	}}

	p, err := NewPlaylistProvider(src, map[string]any{"playlist_url": "spotify:playlist:abc"})
	require.NoError(t, err)
	assert.Equal(t, "playlist", p.Name())

	rec, err := p.RecommendNext(context.Background(), Request{History: []song.Song{played("Bill Withers", "Lovely Day")}})
	require.NoError(t, err)
	assert.Equal(t, "Respect", rec.Title)
	assert.Equal(t, "Aretha Franklin", rec.Artist)

	_, err = p.RecommendNext(context.Background(), Request{History: []song.Song{
		played("Bill Withers", "Lovely Day"), played("Aretha Franklin", "Respect"),
	}})
	assert.ErrorIs(t, err, ErrNoRecommendation)

	_, err = p.RecommendDirectionChange(context.Background(), DirectionRequest{})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewPlaylistProvider(src, nil)
	assert.Error(t, err, "playlist_url is required")
}
