package recommend

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/recommendation"
)

type PlaylistProviderConfig struct {
	PlaylistURL string `yaml:"playlist_url" mapstructure:"playlist_url" validate:"required"`
	SampleSize  int    `yaml:"sample_size" mapstructure:"sample_size" default:"20" validate:"gte=1,lte=100"`
	Rationale   string `yaml:"rationale" mapstructure:"rationale" default:"Pulled from the crate."`
}

// PlaylistProvider suggests random unplayed songs from a configured playlist.
type PlaylistProvider struct {
	spotify PlaylistSource
	config  *PlaylistProviderConfig
}

// NewPlaylistProvider creates a new PlaylistProvider.
func NewPlaylistProvider(spotify PlaylistSource, settings map[string]any) (*PlaylistProvider, error) {
	if spotify == nil {
		return nil, errors.New("spotify client is required")
	}

	var config PlaylistProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("playlist provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &PlaylistProvider{spotify: spotify, config: &config}, nil
}

// Name returns the provider name.
func (p *PlaylistProvider) Name() string {
	return "playlist"
}

// RecommendNext returns the first sampled song not yet played or excluded.
func (p *PlaylistProvider) RecommendNext(ctx context.Context, req Request) (recommendation.Recommendation, error) {
	tracks, err := p.spotify.GetPlaylistTracksRandom(ctx, p.config.PlaylistURL, p.config.SampleSize)
	if err != nil {
		return recommendation.Recommendation{}, errors.Wrap(err, "failed to get random tracks from playlist")
	}

	for i := range tracks {
		t := &tracks[i]
		if t.PrimaryArtist() == "" || isKnown(req, t.PrimaryArtist(), t.Name) {
			continue
		}
		return recommendation.Recommendation{
			Artist:    t.PrimaryArtist(),
			Title:     t.Name,
			Rationale: p.config.Rationale,
		}, nil
	}
	return recommendation.Recommendation{}, ErrNoRecommendation
}

// RecommendDirectionChange is not supported by playlists.
func (p *PlaylistProvider) RecommendDirectionChange(ctx context.Context, req DirectionRequest) ([]recommendation.DirectionOption, error) {
	return nil, ErrUnsupported
}
