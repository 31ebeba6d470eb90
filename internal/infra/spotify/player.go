package spotify

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/duet/internal/domain/device"
	"github.com/osa030/duet/internal/domain/track"
)

// State reads the current playback state of the user's active device.
func (c *Client) State(ctx context.Context) (device.State, error) {
	st, err := c.client.PlayerState(ctx)
	if err != nil {
		return device.State{}, errors.Wrap(err, "failed to get player state")
	}
	if st == nil || st.Item == nil {
		return device.State{}, nil
	}

	return device.State{
		TrackID:  string(st.Item.ID),
		Progress: time.Duration(st.Progress) * time.Millisecond,
		Duration: time.Duration(st.Item.Duration) * time.Millisecond,
		Playing:  st.Playing,
	}, nil
}

// Enqueue adds a track to the device's own play queue.
// Some devices reject queue hand-offs; the error is returned as is.
func (c *Client) Enqueue(ctx context.Context, t track.Track) error {
	if err := c.client.QueueSong(ctx, spotify.ID(t.ID)); err != nil {
		return errors.Wrapf(err, "failed to queue track: id=%s", t.ID)
	}
	zlog.Debug().Msgf("queued on device: track=%s", t.Label())
	return nil
}

// Play starts playing a track immediately.
func (c *Client) Play(ctx context.Context, t track.Track) error {
	opts := &spotify.PlayOptions{
		URIs: []spotify.URI{spotify.URI("spotify:track:" + t.ID)},
	}
	if c.deviceID != "" {
		id := spotify.ID(c.deviceID)
		opts.DeviceID = &id
	}

	err := c.retry(ctx, func() error {
		return c.client.PlayOpt(ctx, opts)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to play track: id=%s", t.ID)
	}
	zlog.Debug().Msgf("playing on device: track=%s", t.Label())
	return nil
}
