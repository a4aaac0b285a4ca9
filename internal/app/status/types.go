// Package status keeps a thread-safe view of the running tracker for the status API.
package status

import "github.com/cockroachdb/errors"

// Phase represents the tracker lifecycle phase.
type Phase int

const (
	PhaseStarting Phase = iota // Resolving the user and loading statistics
	PhaseRunning               // Monitor loop is polling
	PhaseStopped               // Monitor stopped on request
	PhaseFailed                // Monitor stopped on a critical error
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseStarting, PhaseRunning, PhaseStopped, PhaseFailed} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return errors.Newf("unknown phase %q", text)
}

// Counters are per-session totals.
type Counters struct {
	Skips          int `json:"skips"`
	Listens        int `json:"listens"`
	Unlikes        int `json:"unlikes"`
	UnlikeFailures int `json:"unlike_failures"`
}

// NowPlaying is the presentation view of a snapshot.
type NowPlaying struct {
	TrackID    string `json:"track_id"`
	Name       string `json:"name"`
	Artists    string `json:"artists"`
	Album      string `json:"album,omitempty"`
	URL        string `json:"url,omitempty"`
	ProgressMs int64  `json:"progress_ms"`
	DurationMs int64  `json:"duration_ms"`
	IsPlaying  bool   `json:"is_playing"`
	ContextURI string `json:"context_uri"`
}

// Info is the status API payload.
type Info struct {
	SessionID     string      `json:"session_id"`
	Phase         Phase       `json:"phase"`
	MonitorState  string      `json:"monitor_state"`
	Recording     bool        `json:"recording"`
	CollectionURI string      `json:"collection_uri"`
	NowPlaying    *NowPlaying `json:"now_playing"`
	StartedAt     string      `json:"started_at,omitempty"`
	LastPollAt    string      `json:"last_poll_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	Session       Counters    `json:"session"`
	TrackedTracks int         `json:"tracked_tracks"`
}
