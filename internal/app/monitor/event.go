package monitor

import (
	"time"

	"github.com/osa030/skiptracker/internal/domain/skip"
	"github.com/osa030/skiptracker/internal/domain/track"
)

// EventType represents a monitor event type.
type EventType int

const (
	EventTrackChanged    EventType = iota // A new track became current
	EventTrackSkipped                     // The previous track was skipped early
	EventTrackListened                    // The previous track was played through
	EventTrackUnliked                     // A track was removed from the library
	EventUnlikeFailed                     // Removing a track from the library failed
	EventContextMismatch                  // Playback is not from the tracked collection
	EventCritical                         // The monitor stopped on an unexpected error
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackListened:
		return "track_listened"
	case EventTrackUnliked:
		return "track_unliked"
	case EventUnlikeFailed:
		return "unlike_failed"
	case EventContextMismatch:
		return "context_mismatch"
	case EventCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event represents a monitor event.
type Event struct {
	Type       EventType
	Track      *track.Track     // Track the event refers to (nil for critical)
	Stats      *skip.TrackStats // Statistics after the change, if any
	State      State
	ContextURI string
	Err        error
	At         time.Time
}
