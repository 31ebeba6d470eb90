// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig            `yaml:"server"`
	Log          LogConfig               `yaml:"log"`
	Spotify      SpotifyConfig           `yaml:"spotify"`
	LastFm       LastFmConfig            `yaml:"lastfm"`
	LLM          LLMConfig               `yaml:"llm"`
	Storage      StorageConfig           `yaml:"storage"`
	Playback     PlaybackConfig          `yaml:"playback"`
	Selection    SelectionConfig         `yaml:"selection"`
	Matcher      MatcherConfig           `yaml:"matcher"`
	Validator    ValidatorConfig         `yaml:"validator"`
	Recommenders RecommendersConfig      `yaml:"recommenders"`
	FirstPick    FirstPickConfig         `yaml:"first_pick"`
	Session      SessionConfig           `yaml:"session"`
	Personas     []PersonaConfig         `yaml:"personas" validate:"dive"`
	Filters      map[string]FilterConfig `yaml:"filters"`
	Messages     MessagesConfig          `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr       string `yaml:"addr" default:":8080"`
	AdminToken string `yaml:"admin_token" validate:"required"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File   string `yaml:"file"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID         string `yaml:"client_id" validate:"required"`
	ClientSecret     string `yaml:"client_secret" validate:"required"`
	RefreshToken     string `yaml:"refresh_token" validate:"required"`
	Market           string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	DeviceID         string `yaml:"device_id"`
	SearchPageSize   int    `yaml:"search_page_size" default:"10" validate:"gte=1,lte=50"`
	SearchMaxResults int    `yaml:"search_max_results" default:"20" validate:"gte=1,lte=100"`
}

// LastFmConfig represents Last.fm API configuration.
type LastFmConfig struct {
	APIKey string `yaml:"api_key"`
}

// LLMConfig represents the chat completions endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url" default:"https://api.openai.com/v1"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model" default:"gpt-4o-mini"`
	Temperature float64       `yaml:"temperature" default:"0.7" validate:"gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout" default:"30s"`
}

// Enabled reports whether an LLM endpoint is usable.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// StorageConfig represents the database configuration.
type StorageConfig struct {
	Driver        string        `yaml:"driver" default:"sqlite" validate:"oneof=sqlite mysql"`
	DSN           string        `yaml:"dsn" default:"duet.db"`
	RecencyWindow time.Duration `yaml:"recency_window" default:"168h"`
	RecencyLimit  int           `yaml:"recency_limit" default:"50" validate:"gte=0"`
}

// PlaybackConfig represents playback monitor configuration.
type PlaybackConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" default:"500ms"`
	PrefetchThreshold float64       `yaml:"prefetch_threshold" default:"0.95" validate:"gt=0,lt=1"`
	FallbackThreshold float64       `yaml:"fallback_threshold" default:"0.98" validate:"gt=0,lt=1,gtfield=PrefetchThreshold"`
	SettleTimeout     time.Duration `yaml:"settle_timeout" default:"3s"`
}

// SelectionConfig represents song selection pipeline configuration.
type SelectionConfig struct {
	Diagnostics   *bool `yaml:"diagnostics" default:"true"`
	RecordRecency *bool `yaml:"record_recency" default:"true"`
}

// MatcherConfig selects the search result matcher.
type MatcherConfig struct {
	Type string `yaml:"type" default:"string_based" validate:"oneof=string_based llm_based"`
}

// ValidatorConfig selects the pick validator.
type ValidatorConfig struct {
	Type string `yaml:"type" default:"none" validate:"oneof=none llm"`
}

// RecommendersConfig represents the ordered recommendation providers.
type RecommendersConfig struct {
	Providers []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig represents a single recommendation provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=llm lastfm playlist"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// FirstPickConfig represents first pick cache configuration.
type FirstPickConfig struct {
	RefreshSchedule string `yaml:"refresh_schedule" default:"@every 30m"`
	MaxConcurrent   int64  `yaml:"max_concurrent" default:"2" validate:"gte=1,lte=16"`
}

// SessionConfig represents session-related configuration.
type SessionConfig struct {
	PersonaID      string `yaml:"persona_id" validate:"required"`
	StartingSide   string `yaml:"starting_side" default:"user" validate:"oneof=user ai"`
	RecordPlaylist bool   `yaml:"record_playlist"`
	PlaylistName   string `yaml:"playlist_name" default:"duet session"`
}

// PersonaConfig is a persona seeded into storage on startup.
type PersonaConfig struct {
	ID          string `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	StyleGuide  string `yaml:"style_guide" validate:"required"`
	Description string `yaml:"description"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	Success               string `yaml:"success" default:"Queued."`
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	MarketRestriction     string `yaml:"market_restriction" default:"That song is not available in this market."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That song was already played or queued."`
	TrackNotFound         string `yaml:"track_not_found" default:"Song not found."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That song is too long or too short."`
	SelectionFailed       string `yaml:"selection_failed" default:"The DJ could not find a song. Pick one yourself?"`
	ValidationRejected    string `yaml:"validation_rejected" default:"The DJ passed on a song that did not fit."`
	SessionStarted        string `yaml:"session_started" default:"Session started."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFm.APIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DUET_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "success":
		return c.Messages.Success
	case "market_restriction":
		return c.Messages.MarketRestriction
	case "track_not_found":
		return c.Messages.TrackNotFound
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "selection_failed":
		return c.Messages.SelectionFailed
	case "validation_rejected":
		return c.Messages.ValidationRejected
	case "session_started":
		return c.Messages.SessionStarted
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Persona(c.Session.PersonaID) == nil {
		return errors.Newf("session persona %q is not defined in personas", c.Session.PersonaID)
	}

	needsLLM := c.Matcher.Type == "llm_based" || c.Validator.Type == "llm"
	for _, p := range c.Recommenders.Providers {
		if p.Type == "llm" {
			needsLLM = true
		}
	}
	if needsLLM && !c.LLM.Enabled() {
		return errors.New("llm api_key and model are required by the configured matcher, validator or providers")
	}

	return nil
}

// Persona returns the persona with the given id, or nil.
func (c *Config) Persona(id string) *PersonaConfig {
	for i := range c.Personas {
		if strings.EqualFold(c.Personas[i].ID, id) {
			return &c.Personas[i]
		}
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// DiagnosticsEnabled reports whether diagnostic records are captured.
func (c *Config) DiagnosticsEnabled() bool {
	return c.Selection.Diagnostics == nil || *c.Selection.Diagnostics
}

// RecordRecencyEnabled reports whether picks are written to the recency cache.
func (c *Config) RecordRecencyEnabled() bool {
	return c.Selection.RecordRecency == nil || *c.Selection.RecordRecency
}
