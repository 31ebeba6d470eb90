package spotify

import (
	"context"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/duet/internal/domain/track"
)

const playlistPageSize = 100

// GetPlaylistTracksRandom returns up to count tracks from a random page of a playlist.
func (c *Client) GetPlaylistTracksRandom(ctx context.Context, playlistURL string, count int) ([]track.Track, error) {
	playlistID := ExtractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var first *spotify.PlaylistItemPage
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(1),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		first = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist info")
	}

	total := int(first.Total)
	if total == 0 {
		return nil, nil
	}

	offset := 0
	if maxOffset := total - playlistPageSize; maxOffset > 0 {
		offset = rand.IntN(maxOffset + 1)
	}

	var page *spotify.PlaylistItemPage
	err = c.retry(ctx, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(playlistPageSize),
			spotify.Offset(offset),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist items")
	}

	var tracks []track.Track
	for _, item := range page.Items {
		// Episodes have no Track
		if item.Track.Track != nil && item.Track.Track.ID != "" {
			tracks = append(tracks, c.convertTrack(item.Track.Track))
		}
	}

	rand.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
	if len(tracks) > count {
		tracks = tracks[:count]
	}
	return tracks, nil
}

// CreatePlaylist creates a public playlist for the current user and returns its ID.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string) (string, error) {
	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to get current user")
	}

	var playlist *spotify.FullPlaylist
	err = c.retry(ctx, func() error {
		p, err := c.client.CreatePlaylistForUser(ctx, user.ID, name, description, true, false)
		if err != nil {
			return err
		}
		playlist = p
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to create playlist")
	}

	return string(playlist.ID), nil
}

// AddTracksToPlaylist adds tracks to a playlist, 100 per request.
func (c *Client) AddTracksToPlaylist(ctx context.Context, playlistID string, trackIDs []string) error {
	ids := make([]spotify.ID, len(trackIDs))
	for i, trackID := range trackIDs {
		ids[i] = spotify.ID(ExtractTrackID(trackID))
	}

	for i := 0; i < len(ids); i += playlistPageSize {
		end := min(i+playlistPageSize, len(ids))
		batch := ids[i:end]

		err := c.retry(ctx, func() error {
			_, err := c.client.AddTracksToPlaylist(ctx, spotify.ID(playlistID), batch...)
			return err
		})
		if err != nil {
			return errors.Wrap(err, "failed to add tracks to playlist")
		}
	}
	return nil
}
