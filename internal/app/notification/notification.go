package notification

import (
	"time"

	"github.com/osa030/skiptracker/internal/app/monitor"
)

// Notification is the wire form of a monitor event.
type Notification struct {
	SequenceNo uint64 `json:"sequence_no"`
	Type       string `json:"type"`
	Time       string `json:"time"`
	TrackID    string `json:"track_id,omitempty"`
	TrackName  string `json:"track_name,omitempty"`
	Artists    string `json:"artists,omitempty"`
	Skipped    *int   `json:"skipped,omitempty"`
	NotSkipped *int   `json:"not_skipped,omitempty"`
	State      string `json:"state"`
	ContextURI string `json:"context_uri,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FromEvent converts a monitor event. The sequence number is assigned by Broadcast.
func FromEvent(e monitor.Event) *Notification {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	n := &Notification{
		Type:       e.Type.String(),
		Time:       at.Format(time.RFC3339),
		State:      e.State.String(),
		ContextURI: e.ContextURI,
	}
	if e.Track != nil {
		n.TrackID = e.Track.ID
		n.TrackName = e.Track.Name
		n.Artists = e.Track.ArtistNames()
	}
	if e.Stats != nil {
		skipped, notSkipped := e.Stats.Skipped, e.Stats.NotSkipped
		n.Skipped = &skipped
		n.NotSkipped = &notSkipped
	}
	if e.Err != nil {
		n.Error = e.Err.Error()
	}
	return n
}
