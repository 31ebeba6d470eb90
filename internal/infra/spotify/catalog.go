package spotify

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/duet/internal/domain/track"
)

// ErrEmptyQuery is returned when searching with an empty query.
var ErrEmptyQuery = errors.New("search query is required")

const maxPageSize = 50

// GetTrack retrieves a track by ID, URL or URI in the client's market.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	id := ExtractTrackID(trackID)

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get track: id=%s", id)
	}

	t := c.convertTrack(result)
	return &t, nil
}

// ResolveTrack re-fetches a track and reports whether it is still playable in the market.
func (c *Client) ResolveTrack(ctx context.Context, trackID string) (*track.Track, bool, error) {
	t, err := c.GetTrack(ctx, trackID)
	if err != nil {
		return nil, false, err
	}
	return t, t.IsAvailableInMarket(c.market), nil
}

// SearchTracks searches tracks page by page until maxResults candidates are
// collected or the results run out. An empty result is not an error.
func (c *Client) SearchTracks(ctx context.Context, query string, pageSize, maxResults int) ([]track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if maxResults <= 0 {
		maxResults = pageSize
	}

	tracks := make([]track.Track, 0, maxResults)
	for offset := 0; len(tracks) < maxResults; offset += pageSize {
		limit := pageSize
		if remaining := maxResults - len(tracks); remaining < limit {
			limit = remaining
		}

		var page *spotify.FullTrackPage
		err := c.retry(ctx, func() error {
			r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack,
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = r.Tracks
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to search: query=%q", query)
		}
		if page == nil || len(page.Tracks) == 0 {
			break
		}

		for i := range page.Tracks {
			tracks = append(tracks, c.convertTrack(&page.Tracks[i]))
		}

		if len(page.Tracks) < limit || offset+limit >= int(page.Total) {
			break
		}
	}

	zlog.Debug().Msgf("catalog search: query=%q results=%d", query, len(tracks))
	return tracks, nil
}
