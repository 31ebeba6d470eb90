package playback

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Device moved to a new track
	EventPrefetched                    // Next song handed to the device queue
	EventAdvance                       // Current song is over; the session must advance
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventPrefetched:
		return "prefetched"
	case EventAdvance:
		return "advance"
	default:
		return "unknown"
	}
}

// AdvanceReason tells why an EventAdvance was emitted.
type AdvanceReason string

const (
	ReasonNone             AdvanceReason = ""
	ReasonPrefetchRejected AdvanceReason = "prefetch_rejected"
	ReasonFallback         AdvanceReason = "fallback"
	ReasonStopped          AdvanceReason = "stopped"
)

// Event represents a playback event.
type Event struct {
	Type     EventType
	TrackID  string // Started track, or the finished track for EventAdvance
	Previous string // Track playing before, for EventTrackStarted
	NextID   string // Prefetched track, for EventPrefetched
	Reason   AdvanceReason
}
