package recommend

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/infra/lastfm"
)

// LastFmClient defines the Last.fm operations used by the provider.
type LastFmClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Song, error)
	GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Tag, error)
	GetTagTopTracks(ctx context.Context, tagName string, limit int) ([]lastfm.Song, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.Song, error)
}

type LastFmProviderConfig struct {
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	SeedCount    int     `yaml:"seed_count" mapstructure:"seed_count" default:"3" validate:"gte=1"`
	SimilarLimit int     `yaml:"similar_limit" mapstructure:"similar_limit" default:"30" validate:"gte=1,lte=100"`
	TagCount     int     `yaml:"tag_count" mapstructure:"tag_count" default:"3" validate:"gte=1"`
	TagWeight    float64 `yaml:"tag_weight" mapstructure:"tag_weight" default:"0.4" validate:"gte=0,lte=1.0"`
	PoolSize     int     `yaml:"pool_size" mapstructure:"pool_size" default:"5" validate:"gte=1"`
	OpeningTag   string  `yaml:"opening_tag" mapstructure:"opening_tag"`
}

// LastFmProvider suggests songs similar to the recent history, falling back to
// tag or chart top tracks when there is no history.
type LastFmProvider struct {
	lastfm LastFmClient
	config *LastFmProviderConfig
}

type scoredSong struct {
	song   lastfm.Song
	score  float64
	reason string
}

// NewLastFmProvider creates a new LastFmProvider. The API key comes from the
// settings, or apiKey when the settings have none.
func NewLastFmProvider(apiKey string, settings map[string]any) (*LastFmProvider, error) {
	config, err := decodeLastFmConfig(settings)
	if err != nil {
		return nil, err
	}
	if config.APIKey == "" {
		config.APIKey = apiKey
	}

	client, err := lastfm.New(lastfm.Config{APIKey: config.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}
	return newLastFmProvider(client, config), nil
}

func newLastFmProvider(client LastFmClient, config *LastFmProviderConfig) *LastFmProvider {
	return &LastFmProvider{lastfm: client, config: config}
}

func decodeLastFmConfig(settings map[string]any) (*LastFmProviderConfig, error) {
	var config LastFmProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &config, nil
}

// Name returns the provider name.
func (p *LastFmProvider) Name() string {
	return "lastfm"
}

// RecommendNext picks randomly among the best scored unplayed songs.
func (p *LastFmProvider) RecommendNext(ctx context.Context, req Request) (recommendation.Recommendation, error) {
	var (
		scored []scoredSong
		err    error
	)
	switch {
	case req.Direction != nil && req.Direction.Label != "":
		scored, err = p.tagSongs(ctx, req.Direction.Label, 1, "Steering toward "+req.Direction.Label+".")
	case len(req.History) > 0:
		scored = p.similarSongs(ctx, req)
	case p.config.OpeningTag != "":
		scored, err = p.tagSongs(ctx, p.config.OpeningTag, 1, "An opener from the "+p.config.OpeningTag+" canon.")
	default:
		scored, err = p.chartSongs(ctx)
	}
	if err != nil {
		return recommendation.Recommendation{}, err
	}

	pool := make([]scoredSong, 0, len(scored))
	for _, s := range scored {
		if !isKnown(req, s.song.Artist, s.song.Name) {
			pool = append(pool, s)
		}
	}
	if len(pool) == 0 {
		return recommendation.Recommendation{}, ErrNoRecommendation
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	if len(pool) > p.config.PoolSize {
		pool = pool[:p.config.PoolSize]
	}
	pick := pool[rand.IntN(len(pool))]

	return recommendation.Recommendation{
		Artist:    pick.song.Artist,
		Title:     pick.song.Name,
		Rationale: pick.reason,
	}, nil
}

// similarSongs merges similar tracks of the most recent seeds and their top tag.
// Songs found by both strategies score higher.
func (p *LastFmProvider) similarSongs(ctx context.Context, req Request) []scoredSong {
	seeds := req.History
	if len(seeds) > p.config.SeedCount {
		seeds = seeds[len(seeds)-p.config.SeedCount:]
	}

	byKey := make(map[string]*scoredSong)
	add := func(s lastfm.Song, weight float64, reason string) {
		key := strings.ToLower(s.Artist + "\x00" + s.Name)
		if existing, ok := byKey[key]; ok {
			existing.score += weight
			return
		}
		byKey[key] = &scoredSong{song: s, score: weight, reason: reason}
	}

	for i := range seeds {
		seed := seeds[i].Track
		artist := seed.PrimaryArtist()
		if artist == "" {
			continue
		}

		similar, err := p.lastfm.GetSimilarTracks(ctx, seed.Name, artist, p.config.SimilarLimit)
		if err != nil {
			zlog.Debug().Msgf("last.fm similar tracks failed: seed=%s error=%v", seed.Label(), err)
		}
		for _, s := range similar {
			add(s, 1-p.config.TagWeight, "Picks up where "+seed.Name+" left off.")
		}

		tags, err := p.lastfm.GetTopTags(ctx, seed.Name, artist, 1)
		if err != nil || len(tags) == 0 {
			continue
		}
		tagged, err := p.lastfm.GetTagTopTracks(ctx, tags[0].Name, p.config.SimilarLimit)
		if err != nil {
			continue
		}
		for _, s := range tagged {
			add(s, p.config.TagWeight, "Keeps the "+tags[0].Name+" thread going.")
		}
	}

	out := make([]scoredSong, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	return out
}

func (p *LastFmProvider) tagSongs(ctx context.Context, tag string, weight float64, reason string) ([]scoredSong, error) {
	songs, err := p.lastfm.GetTagTopTracks(ctx, tag, p.config.SimilarLimit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get top tracks for tag %s", tag)
	}
	out := make([]scoredSong, 0, len(songs))
	for i, s := range songs {
		// Keep chart order as a weak preference.
		out = append(out, scoredSong{song: s, score: weight - float64(i)*0.001, reason: reason})
	}
	return out, nil
}

func (p *LastFmProvider) chartSongs(ctx context.Context) ([]scoredSong, error) {
	songs, err := p.lastfm.GetChartTopTracks(ctx, p.config.SimilarLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chart top tracks")
	}
	out := make([]scoredSong, 0, len(songs))
	for i, s := range songs {
		out = append(out, scoredSong{song: s, score: 1 - float64(i)*0.001, reason: "A crowd favourite to open with."})
	}
	return out, nil
}

// RecommendDirectionChange offers the top tags of recent songs as directions,
// skipping the tag the set is already in.
func (p *LastFmProvider) RecommendDirectionChange(ctx context.Context, req DirectionRequest) ([]recommendation.DirectionOption, error) {
	if len(req.History) == 0 {
		return nil, ErrNoRecommendation
	}

	seeds := req.History
	if len(seeds) > p.config.SeedCount {
		seeds = seeds[len(seeds)-p.config.SeedCount:]
	}

	counts := make(map[string]int)
	for i := range seeds {
		t := seeds[i].Track
		if t.PrimaryArtist() == "" {
			continue
		}
		tags, err := p.lastfm.GetTopTags(ctx, t.Name, t.PrimaryArtist(), 10)
		if err != nil {
			continue
		}
		for _, tag := range tags {
			counts[strings.ToLower(tag.Name)] += tag.Count
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 0 {
		// The dominant tag is where the set already is.
		names = names[1:]
	}

	options := make([]recommendation.DirectionOption, 0, len(names))
	for _, name := range names {
		options = append(options, recommendation.DirectionOption{
			Label:  name,
			Prompt: "Move the set toward " + name + " while keeping the energy continuous.",
		})
	}
	if len(options) == 0 {
		return nil, ErrNoRecommendation
	}
	return options, nil
}
