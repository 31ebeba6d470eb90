package connect

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/session"
	"github.com/osa030/duet/internal/app/session/state"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/config"
	"github.com/osa030/duet/internal/infra/spotify"
)

// ServiceName is the fully-qualified name of the session service.
const ServiceName = "duet.v1.SessionService"

// Procedure paths.
const (
	GetStatusProcedure              = "/" + ServiceName + "/GetStatus"
	AIStartsProcedure               = "/" + ServiceName + "/AIStarts"
	QueueUserPickProcedure          = "/" + ServiceName + "/QueueUserPick"
	SearchTracksProcedure           = "/" + ServiceName + "/SearchTracks"
	SkipProcedure                   = "/" + ServiceName + "/Skip"
	SkipToProcedure                 = "/" + ServiceName + "/SkipTo"
	RequestDirectionChangeProcedure = "/" + ServiceName + "/RequestDirectionChange"
	ApplyDirectionProcedure         = "/" + ServiceName + "/ApplyDirection"
	WatchNoticesProcedure           = "/" + ServiceName + "/WatchNotices"
)

// Session is the session the service drives.
type Session interface {
	Status() session.Status
	AIStarts(ctx context.Context) (*song.Song, error)
	QueueUserPick(ctx context.Context, trackID string) (session.Admission, error)
	SearchTracks(ctx context.Context, query string) ([]track.Track, error)
	Skip(ctx context.Context) (song.Song, error)
	SkipTo(ctx context.Context, songID string) (song.Song, error)
	RequestDirectionChange(ctx context.Context) ([]recommendation.DirectionOption, error)
	ApplyDirection(ctx context.Context, index int) (recommendation.DirectionOption, error)
	Notifications() *notification.Manager
	Done() <-chan struct{}
}

// SessionService implements the SessionService RPC.
type SessionService struct {
	session Session
	config  *config.Config
}

// NewSessionService creates a new SessionService.
func NewSessionService(s Session, cfg *config.Config) *SessionService {
	return &SessionService{session: s, config: cfg}
}

// NewSessionServiceHandler builds the HTTP handler serving every procedure of
// the service and returns the path prefix to mount it on.
func NewSessionServiceHandler(svc *SessionService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(AIStartsProcedure, connect.NewUnaryHandler(AIStartsProcedure, svc.AIStarts, opts...))
	mux.Handle(QueueUserPickProcedure, connect.NewUnaryHandler(QueueUserPickProcedure, svc.QueueUserPick, opts...))
	mux.Handle(SearchTracksProcedure, connect.NewUnaryHandler(SearchTracksProcedure, svc.SearchTracks, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(SkipToProcedure, connect.NewUnaryHandler(SkipToProcedure, svc.SkipTo, opts...))
	mux.Handle(RequestDirectionChangeProcedure, connect.NewUnaryHandler(RequestDirectionChangeProcedure, svc.RequestDirectionChange, opts...))
	mux.Handle(ApplyDirectionProcedure, connect.NewUnaryHandler(ApplyDirectionProcedure, svc.ApplyDirection, opts...))
	mux.Handle(WatchNoticesProcedure, connect.NewServerStreamHandler(WatchNoticesProcedure, svc.WatchNotices, opts...))
	return "/" + ServiceName + "/", mux
}

// GetStatus returns the current session status.
func (s *SessionService) GetStatus(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StatusResponse], error) {
	return connect.NewResponse(toStatusResponse(s.session.Status())), nil
}

// AIStarts hands the turn to the AI and queues its opening pick.
func (s *SessionService) AIStarts(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[AIStartsResponse], error) {
	picked, err := s.session.AIStarts(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	if picked == nil {
		return connect.NewResponse(&AIStartsResponse{Message: s.config.GetMessage("selection_failed")}), nil
	}
	info := toSongInfo(*picked)
	return connect.NewResponse(&AIStartsResponse{
		Song:    &info,
		Message: s.config.GetMessage("success"),
	}), nil
}

// QueueUserPick queues the user's pick.
func (s *SessionService) QueueUserPick(
	ctx context.Context,
	req *connect.Request[QueueUserPickRequest],
) (*connect.Response[QueueUserPickResponse], error) {
	trackID := spotify.ExtractTrackID(req.Msg.TrackID)
	if trackID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("track_id is required"))
	}

	adm, err := s.session.QueueUserPick(ctx, trackID)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &QueueUserPickResponse{
		Accepted: adm.Accepted,
		Code:     adm.Code,
		Message:  adm.Message,
	}
	if adm.Song != nil {
		info := toSongInfo(*adm.Song)
		resp.Song = &info
	}
	return connect.NewResponse(resp), nil
}

// SearchTracks searches the catalog.
func (s *SessionService) SearchTracks(
	ctx context.Context,
	req *connect.Request[SearchTracksRequest],
) (*connect.Response[SearchTracksResponse], error) {
	if req.Msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}
	tracks, err := s.session.SearchTracks(ctx, req.Msg.Query)
	if err != nil {
		return nil, toConnectError(err)
	}
	infos := make([]TrackInfo, 0, len(tracks))
	for _, t := range tracks {
		infos = append(infos, toTrackInfo(t))
	}
	return connect.NewResponse(&SearchTracksResponse{Tracks: infos}), nil
}

// Skip skips to the next queued song.
func (s *SessionService) Skip(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[SongResponse], error) {
	next, err := s.session.Skip(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SongResponse{Song: toSongInfo(next)}), nil
}

// SkipTo skips to a queued song.
func (s *SessionService) SkipTo(
	ctx context.Context,
	req *connect.Request[SkipToRequest],
) (*connect.Response[SongResponse], error) {
	target, err := s.session.SkipTo(ctx, req.Msg.SongID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SongResponse{Song: toSongInfo(target)}), nil
}

// RequestDirectionChange returns stylistic pivots to choose from.
func (s *SessionService) RequestDirectionChange(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[DirectionOptionsResponse], error) {
	options, err := s.session.RequestDirectionChange(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DirectionOptionsResponse{Options: toDirectionInfos(options)}), nil
}

// ApplyDirection applies one of the offered pivots.
func (s *SessionService) ApplyDirection(
	ctx context.Context,
	req *connect.Request[ApplyDirectionRequest],
) (*connect.Response[ApplyDirectionResponse], error) {
	opt, err := s.session.ApplyDirection(ctx, req.Msg.Index)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ApplyDirectionResponse{Applied: toDirectionInfo(opt)}), nil
}

// WatchNotices streams notices, starting with one describing the current state.
func (s *SessionService) WatchNotices(
	ctx context.Context,
	req *connect.Request[Empty],
	stream *connect.ServerStream[notification.Notice],
) error {
	notices := s.session.Notifications()

	if err := stream.Send(notices.NewNotice(describeStatus(s.session.Status()), notification.SeverityInfo)); err != nil {
		return err
	}

	subscriptionID := notices.Subscribe(&noticeStreamAdapter{stream: stream})
	defer notices.Unsubscribe(subscriptionID)
	zlog.Debug().Msgf("notice subscriber joined: subscription_id=%s", subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

func describeStatus(st session.Status) string {
	msg := fmt.Sprintf("%s is DJing. Turn: %s.", st.PersonaName, st.Turn)
	if st.NowPlaying != nil {
		msg += " Now playing: " + st.NowPlaying.Track.Label() + "."
	}
	if st.Thinking {
		msg += " The DJ is thinking."
	}
	return msg
}

// noticeStreamAdapter adapts connect.ServerStream to notification.Stream.
// Broadcasts may overlap, so sends are serialized.
type noticeStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notice]
}

func (a *noticeStreamAdapter) Send(n *notification.Notice) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(n)
}

// toConnectError maps session errors to connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotRunning),
		errors.Is(err, session.ErrNothingQueued):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, state.ErrSongNotQueued):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, session.ErrNoSuchDirection):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, session.ErrDirectionUnsupported):
		return connect.NewError(connect.CodeUnimplemented, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		zlog.Error().Msgf("request failed: error=%v", err)
		return connect.NewError(connect.CodeInternal, err)
	}
}
