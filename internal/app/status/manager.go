package status

import (
	"sync"
	"time"

	"github.com/osa030/skiptracker/internal/app/monitor"
	"github.com/osa030/skiptracker/internal/domain/track"
)

// Manager manages tracker status with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	sessionID     string
	collectionURI string

	phase        Phase
	monitorState monitor.State
	nowPlaying   *NowPlaying
	startedAt    time.Time
	lastPollAt   time.Time
	lastError    string
	counters     Counters

	now func() time.Time
}

// New creates a new status manager.
func New(sessionID, collectionURI string) *Manager {
	return &Manager{
		sessionID:     sessionID,
		collectionURI: collectionURI,
		phase:         PhaseStarting,
		monitorState:  monitor.StateIdle,
		now:           time.Now,
	}
}

// GetPhase returns the current phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// SetPhase sets the phase. Entering PhaseRunning records the start time.
func (m *Manager) SetPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == PhaseRunning && m.phase != PhaseRunning {
		m.startedAt = m.now()
	}
	m.phase = p
}

// Fail moves to PhaseFailed and records the cause.
func (m *Manager) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseFailed
	if err != nil {
		m.lastError = err.Error()
	}
}

// SetSnapshot is the monitor's presentation sink. It mirrors the monitor's
// context check so the payload can tell whether skips are being recorded.
func (m *Manager) SetSnapshot(snap *track.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPollAt = m.now()
	switch {
	case !snap.IsActive():
		m.monitorState = monitor.StateIdle
	case snap.PlaysFrom(m.collectionURI):
		m.monitorState = monitor.StateRecording
	default:
		m.monitorState = monitor.StateUntracked
	}
	if snap == nil || snap.Track == nil {
		m.nowPlaying = nil
		return
	}
	m.nowPlaying = &NowPlaying{
		TrackID:    snap.Track.ID,
		Name:       snap.Track.Name,
		Artists:    snap.Track.ArtistNames(),
		Album:      snap.Track.Album,
		URL:        snap.Track.URL,
		ProgressMs: snap.Progress.Milliseconds(),
		DurationMs: snap.Track.Duration.Milliseconds(),
		IsPlaying:  snap.IsPlaying,
		ContextURI: snap.ContextURI,
	}
}

// ApplyEvent updates the session counters from a monitor event.
func (m *Manager) ApplyEvent(e monitor.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e.Type {
	case monitor.EventTrackSkipped:
		m.counters.Skips++
	case monitor.EventTrackListened:
		m.counters.Listens++
	case monitor.EventTrackUnliked:
		m.counters.Unlikes++
	case monitor.EventUnlikeFailed:
		m.counters.UnlikeFailures++
	case monitor.EventCritical:
		m.phase = PhaseFailed
		if e.Err != nil {
			m.lastError = e.Err.Error()
		}
	}
}

// IsRecording reports whether skips are currently being recorded.
func (m *Manager) IsRecording() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase == PhaseRunning && m.monitorState == monitor.StateRecording
}

// GetCounters returns the session counters.
func (m *Manager) GetCounters() Counters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters
}

// BuildInfo creates the status payload. trackedTracks is supplied by the caller.
func (m *Manager) BuildInfo(trackedTracks int) *Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := &Info{
		SessionID:     m.sessionID,
		Phase:         m.phase,
		MonitorState:  m.monitorState.String(),
		Recording:     m.phase == PhaseRunning && m.monitorState == monitor.StateRecording,
		CollectionURI: m.collectionURI,
		LastError:     m.lastError,
		Session:       m.counters,
		TrackedTracks: trackedTracks,
	}
	if m.nowPlaying != nil {
		np := *m.nowPlaying
		info.NowPlaying = &np
	}
	if !m.startedAt.IsZero() {
		info.StartedAt = m.startedAt.Format(time.RFC3339)
	}
	if !m.lastPollAt.IsZero() {
		info.LastPollAt = m.lastPollAt.Format(time.RFC3339)
	}
	return info
}
