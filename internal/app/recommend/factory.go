package recommend

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/infra/config"
)

// Dependencies are the clients providers may need. Nil entries disable the
// providers that need them.
type Dependencies struct {
	LLM      JSONCompleter
	Playlist PlaylistSource
}

// NewChainFromConfig creates a provider chain from configuration.
func NewChainFromConfig(cfg *config.Config, deps Dependencies) (*Chain, error) {
	if len(cfg.Recommenders.Providers) == 0 {
		return nil, errors.New("no recommendation providers configured")
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Recommenders.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating recommendation provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)
		switch pcfg.Type {
		case "llm":
			provider, err = NewLLMProvider(deps.LLM, pcfg.Settings)

		case "lastfm":
			provider, err = NewLastFmProvider(cfg.LastFm.APIKey, pcfg.Settings)

		case "playlist":
			provider, err = NewPlaylistProvider(deps.Playlist, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered recommendation provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewChain(providers), nil
}
