package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/duet/internal/app/notification"
)

// Client calls the session service.
type Client struct {
	getStatus              *connect.Client[Empty, StatusResponse]
	aiStarts               *connect.Client[Empty, AIStartsResponse]
	queueUserPick          *connect.Client[QueueUserPickRequest, QueueUserPickResponse]
	searchTracks           *connect.Client[SearchTracksRequest, SearchTracksResponse]
	skip                   *connect.Client[Empty, SongResponse]
	skipTo                 *connect.Client[SkipToRequest, SongResponse]
	requestDirectionChange *connect.Client[Empty, DirectionOptionsResponse]
	applyDirection         *connect.Client[ApplyDirectionRequest, ApplyDirectionResponse]
	watchNotices           *connect.Client[Empty, notification.Notice]
}

// NewClient creates a client for the service at baseURL, sending token with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(&tokenInterceptor{token: token}),
	}, opts...)

	return &Client{
		getStatus:              connect.NewClient[Empty, StatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		aiStarts:               connect.NewClient[Empty, AIStartsResponse](httpClient, baseURL+AIStartsProcedure, opts...),
		queueUserPick:          connect.NewClient[QueueUserPickRequest, QueueUserPickResponse](httpClient, baseURL+QueueUserPickProcedure, opts...),
		searchTracks:           connect.NewClient[SearchTracksRequest, SearchTracksResponse](httpClient, baseURL+SearchTracksProcedure, opts...),
		skip:                   connect.NewClient[Empty, SongResponse](httpClient, baseURL+SkipProcedure, opts...),
		skipTo:                 connect.NewClient[SkipToRequest, SongResponse](httpClient, baseURL+SkipToProcedure, opts...),
		requestDirectionChange: connect.NewClient[Empty, DirectionOptionsResponse](httpClient, baseURL+RequestDirectionChangeProcedure, opts...),
		applyDirection:         connect.NewClient[ApplyDirectionRequest, ApplyDirectionResponse](httpClient, baseURL+ApplyDirectionProcedure, opts...),
		watchNotices:           connect.NewClient[Empty, notification.Notice](httpClient, baseURL+WatchNoticesProcedure, opts...),
	}
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) AIStarts(ctx context.Context) (*AIStartsResponse, error) {
	resp, err := c.aiStarts.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) QueueUserPick(ctx context.Context, trackID string) (*QueueUserPickResponse, error) {
	resp, err := c.queueUserPick.CallUnary(ctx, connect.NewRequest(&QueueUserPickRequest{TrackID: trackID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) SearchTracks(ctx context.Context, query string) (*SearchTracksResponse, error) {
	resp, err := c.searchTracks.CallUnary(ctx, connect.NewRequest(&SearchTracksRequest{Query: query}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Skip(ctx context.Context) (*SongResponse, error) {
	resp, err := c.skip.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) SkipTo(ctx context.Context, songID string) (*SongResponse, error) {
	resp, err := c.skipTo.CallUnary(ctx, connect.NewRequest(&SkipToRequest{SongID: songID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) RequestDirectionChange(ctx context.Context) (*DirectionOptionsResponse, error) {
	resp, err := c.requestDirectionChange.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ApplyDirection(ctx context.Context, index int) (*ApplyDirectionResponse, error) {
	resp, err := c.applyDirection.CallUnary(ctx, connect.NewRequest(&ApplyDirectionRequest{Index: index}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// WatchNotices opens the notice stream. The caller must close it.
func (c *Client) WatchNotices(ctx context.Context) (*connect.ServerStreamForClient[notification.Notice], error) {
	return c.watchNotices.CallServerStream(ctx, connect.NewRequest(&Empty{}))
}
