package connect

import (
	"time"

	"github.com/osa030/duet/internal/app/session"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/spotify"
)

// statusHistoryLimit is the number of recent songs returned by GetStatus.
const statusHistoryLimit = 20

type Empty struct{}

type TrackInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	Album       string   `json:"album,omitempty"`
	AlbumArtURL string   `json:"album_art_url,omitempty"`
	URL         string   `json:"url"`
	DurationMs  int64    `json:"duration_ms"`
}

type SongInfo struct {
	ID         string    `json:"id"`
	Track      TrackInfo `json:"track"`
	SelectedBy string    `json:"selected_by"`
	Status     string    `json:"status"`
	Rationale  string    `json:"rationale,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

type DirectionInfo struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

type StatusResponse struct {
	SessionID        string          `json:"session_id"`
	PersonaID        string          `json:"persona_id"`
	PersonaName      string          `json:"persona_name"`
	Phase            string          `json:"phase"`
	Playback         string          `json:"playback"`
	Turn             string          `json:"turn"`
	Thinking         bool            `json:"thinking"`
	NowPlaying       *SongInfo       `json:"now_playing,omitempty"`
	Queue            []SongInfo      `json:"queue"`
	History          []SongInfo      `json:"history"`
	DirectionOptions []DirectionInfo `json:"direction_options,omitempty"`
	Direction        *DirectionInfo  `json:"direction,omitempty"`
	PlaylistURL      string          `json:"playlist_url,omitempty"`
}

type AIStartsResponse struct {
	Song    *SongInfo `json:"song,omitempty"`
	Message string    `json:"message"`
}

type QueueUserPickRequest struct {
	TrackID string `json:"track_id"` // ID, URI or URL
}

type QueueUserPickResponse struct {
	Accepted bool      `json:"accepted"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message"`
	Song     *SongInfo `json:"song,omitempty"`
}

type SearchTracksRequest struct {
	Query string `json:"query"`
}

type SearchTracksResponse struct {
	Tracks []TrackInfo `json:"tracks"`
}

type SkipToRequest struct {
	SongID string `json:"song_id"`
}

type SongResponse struct {
	Song SongInfo `json:"song"`
}

type DirectionOptionsResponse struct {
	Options []DirectionInfo `json:"options"`
}

type ApplyDirectionRequest struct {
	Index int `json:"index"`
}

type ApplyDirectionResponse struct {
	Applied DirectionInfo `json:"applied"`
}

func toTrackInfo(t track.Track) TrackInfo {
	url := t.URL
	if url == "" && t.ID != "" {
		url = spotify.TrackURL(t.ID)
	}
	return TrackInfo{
		ID:          t.ID,
		Name:        t.Name,
		Artists:     t.Artists,
		Album:       t.Album,
		AlbumArtURL: t.AlbumArtURL,
		URL:         url,
		DurationMs:  t.Duration.Milliseconds(),
	}
}

func toSongInfo(s song.Song) SongInfo {
	return SongInfo{
		ID:         s.ID,
		Track:      toTrackInfo(s.Track),
		SelectedBy: s.SelectedBy.String(),
		Status:     s.Status.String(),
		Rationale:  s.Rationale,
		AddedAt:    s.AddedAt,
	}
}

func toSongInfos(songs []song.Song) []SongInfo {
	out := make([]SongInfo, 0, len(songs))
	for _, s := range songs {
		out = append(out, toSongInfo(s))
	}
	return out
}

func toDirectionInfo(o recommendation.DirectionOption) DirectionInfo {
	return DirectionInfo{Label: o.Label, Prompt: o.Prompt}
}

func toDirectionInfos(options []recommendation.DirectionOption) []DirectionInfo {
	out := make([]DirectionInfo, 0, len(options))
	for _, o := range options {
		out = append(out, toDirectionInfo(o))
	}
	return out
}

func toStatusResponse(st session.Status) *StatusResponse {
	resp := &StatusResponse{
		SessionID:        st.SessionID,
		PersonaID:        st.PersonaID,
		PersonaName:      st.PersonaName,
		Phase:            st.Phase.String(),
		Playback:         st.Playback.String(),
		Turn:             st.Turn.String(),
		Thinking:         st.Thinking,
		Queue:            toSongInfos(st.Queue),
		History:          toSongInfos(st.Recent(statusHistoryLimit)),
		DirectionOptions: toDirectionInfos(st.DirectionOptions),
		PlaylistURL:      st.PlaylistURL,
	}
	if st.NowPlaying != nil {
		s := toSongInfo(*st.NowPlaying)
		resp.NowPlaying = &s
	}
	if st.Direction != nil {
		d := toDirectionInfo(*st.Direction)
		resp.Direction = &d
	}
	return resp
}
