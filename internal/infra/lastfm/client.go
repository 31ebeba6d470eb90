// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// Client is a Last.fm API client. Tag lookups are cached for the client's lifetime.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	cacheMu   sync.RWMutex
	tagCache  map[string][]Tag
	songCache map[string][]Song
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// Song is a track reference returned by Last.fm.
type Song struct {
	Name   string
	Artist string
}

// Tag represents a Last.fm tag.
type Tag struct {
	Name  string
	Count int
}

// apiError is the error envelope of the Last.fm API.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

type trackList struct {
	Track []struct {
		Name   string `json:"name"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"track"`
}

func (l trackList) songs() []Song {
	out := make([]Song, 0, len(l.Track))
	for _, t := range l.Track {
		out = append(out, Song{Name: t.Name, Artist: t.Artist.Name})
	}
	return out
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		tagCache:   make(map[string][]Tag),
		songCache:  make(map[string][]Song),
	}, nil
}

// GetSimilarTracks retrieves tracks similar to the given one.
// Reference: https://www.last.fm/api/show/track.getSimilar
func (c *Client) GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]Song, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}

	params := url.Values{}
	params.Set("method", "track.getSimilar")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("limit", strconv.Itoa(clampLimit(limit, 20)))
	params.Set("autocorrect", "1")

	var response struct {
		SimilarTracks trackList `json:"similartracks"`
	}
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}
	return response.SimilarTracks.songs(), nil
}

// GetTopTags retrieves the top tags of a track.
// Reference: https://www.last.fm/api/show/track.getTopTags
func (c *Client) GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]Tag, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}
	limit = clampLimit(limit, 10)

	cacheKey := "tracktag:" + artistName + ":" + trackName
	c.cacheMu.RLock()
	cached, ok := c.tagCache[cacheKey]
	c.cacheMu.RUnlock()
	if ok {
		zlog.Debug().Msgf("using cached tags: artist=%s track=%s", artistName, trackName)
		return truncate(cached, limit), nil
	}

	params := url.Values{}
	params.Set("method", "track.getTopTags")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("autocorrect", "1")

	var response struct {
		TopTags struct {
			Tag []struct {
				Name  string `json:"name"`
				Count int    `json:"count"`
			} `json:"tag"`
		} `json:"toptags"`
	}
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}

	tags := make([]Tag, 0, len(response.TopTags.Tag))
	for _, t := range response.TopTags.Tag {
		tags = append(tags, Tag{Name: t.Name, Count: t.Count})
	}

	c.cacheMu.Lock()
	c.tagCache[cacheKey] = tags
	c.cacheMu.Unlock()

	return truncate(tags, limit), nil
}

// GetTagTopTracks retrieves the top tracks of a tag.
// Reference: https://www.last.fm/api/show/tag.getTopTracks
func (c *Client) GetTagTopTracks(ctx context.Context, tagName string, limit int) ([]Song, error) {
	if tagName == "" {
		return nil, errors.New("tag name is required")
	}
	limit = clampLimit(limit, 20)

	cacheKey := "tagtracks:" + tagName + ":" + strconv.Itoa(limit)
	c.cacheMu.RLock()
	cached, ok := c.songCache[cacheKey]
	c.cacheMu.RUnlock()
	if ok {
		zlog.Debug().Msgf("using cached top tracks: tag=%s", tagName)
		return cached, nil
	}

	params := url.Values{}
	params.Set("method", "tag.getTopTracks")
	params.Set("tag", tagName)
	params.Set("limit", strconv.Itoa(limit))

	var response struct {
		Tracks trackList `json:"tracks"`
	}
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}
	songs := response.Tracks.songs()

	c.cacheMu.Lock()
	c.songCache[cacheKey] = songs
	c.cacheMu.Unlock()

	return songs, nil
}

// GetChartTopTracks retrieves the global chart.
// Reference: https://www.last.fm/api/show/chart.getTopTracks
func (c *Client) GetChartTopTracks(ctx context.Context, limit int) ([]Song, error) {
	params := url.Values{}
	params.Set("method", "chart.getTopTracks")
	params.Set("limit", strconv.Itoa(clampLimit(limit, 20)))

	var response struct {
		Tracks trackList `json:"tracks"`
	}
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}
	return response.Tracks.songs(), nil
}

// call performs a GET against the API and decodes the JSON body into out.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	method := params.Get("method")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to send request: method=%s", method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		return errors.Errorf("last.fm API error %d: %s", apiErr.Error, apiErr.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("last.fm API status %d: method=%s", resp.StatusCode, method)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "failed to parse response: method=%s", method)
	}
	return nil
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func truncate[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
