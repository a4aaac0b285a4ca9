// Package monitor polls the current playback and classifies track changes
// as early skips or full listens.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/skiptracker/internal/domain/skip"
	"github.com/osa030/skiptracker/internal/domain/track"
)

// Errors
var (
	ErrCritical       = errors.New("monitor aborted")
	ErrAlreadyRunning = errors.New("monitor already running")
)

// DefaultPollInterval is the fixed delay between two ticks.
const DefaultPollInterval = time.Second

// SpotifyClient is the playback capability the monitor consumes.
type SpotifyClient interface {
	// CurrentPlayback returns nil when nothing is playing.
	CurrentPlayback(ctx context.Context) (*track.Snapshot, error)
	// RecentlyPlayed returns the ids of the most recently played tracks.
	RecentlyPlayed(ctx context.Context) ([]string, error)
	UnlikeTrack(ctx context.Context, trackID string) error
}

// StatsStore is the subset of the stats store the monitor mutates.
type StatsStore interface {
	Ensure(trackID string) bool
	RecordSkip(trackID string, at time.Time) skip.TrackStats
	RecordListen(trackID string) skip.TrackStats
	Remove(trackIDs ...string) int
}

// SnapshotFunc receives every polled snapshot, including nil ones.
type SnapshotFunc func(snap *track.Snapshot)

// Config holds monitor configuration.
type Config struct {
	SkipThreshold     int              // Skips after which a track is unliked
	ProgressThreshold float64          // Fraction that must be heard to count as a listen
	CollectionURI     string           // Context URI of the user's saved tracks
	PollInterval      time.Duration    // Delay between ticks
	Now               func() time.Time // Clock used for skip timestamps
}

// Monitor runs the polling loop. All transition state is owned by the loop
// goroutine; only the event and critical channels are shared.
type Monitor struct {
	client SpotifyClient
	store  StatsStore
	config Config

	sessionID string
	running   atomic.Bool

	// Transition state
	order        trackOrder
	last         *track.Track
	lastProgress time.Duration

	stateMu sync.RWMutex
	state   State

	events   chan Event
	critical chan error
}

// New creates a monitor. Zero config values fall back to the defaults.
func New(client SpotifyClient, store StatsStore, config Config) *Monitor {
	if config.SkipThreshold <= 0 {
		config.SkipThreshold = skip.DefaultSkipThreshold
	}
	if v, ok := skip.NormalizeProgressThreshold(config.ProgressThreshold); !ok {
		config.ProgressThreshold = v
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Monitor{
		client:    client,
		store:     store,
		config:    config,
		sessionID: uuid.NewString(),
		state:     StateIdle,
		events:    make(chan Event, 32),
		critical:  make(chan error, 1),
	}
}

// SessionID identifies this monitoring session.
func (m *Monitor) SessionID() string {
	return m.sessionID
}

// Events returns the event channel. It is closed when Run returns.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Critical receives the error that aborted the loop, if any.
func (m *Monitor) Critical() <-chan error {
	return m.critical
}

// State returns the state observed on the latest tick.
func (m *Monitor) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Run polls until ctx is cancelled or an unexpected error occurs.
// Cancellation is checked once per tick, so stopping takes at most one interval
// plus any in-flight request. The returned error is marked with ErrCritical.
func (m *Monitor) Run(ctx context.Context, onSnapshot SnapshotFunc) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.events)

	zlog.Info().Msgf("monitor: session %s started (threshold=%d, progress=%.2f, interval=%s)",
		m.sessionID, m.config.SkipThreshold, m.config.ProgressThreshold, m.config.PollInterval)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			zlog.Info().Msgf("monitor: session %s stopped", m.sessionID)
			return nil
		}

		if err := m.safeTick(ctx, onSnapshot); err != nil {
			zlog.Error().Bool("critical", true).Err(err).Msg("monitor: aborting")
			m.sendEvent(Event{Type: EventCritical, Err: err, State: m.State(), At: m.config.Now()})
			select {
			case m.critical <- err:
			default:
			}
			return err
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// safeTick runs one tick and converts a panic into a critical error.
func (m *Monitor) safeTick(ctx context.Context, onSnapshot SnapshotFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.Newf("unexpected error in poll loop: %v", r), ErrCritical)
		}
	}()
	m.tick(ctx, onSnapshot)
	return nil
}

func (m *Monitor) tick(ctx context.Context, onSnapshot SnapshotFunc) {
	snap, err := m.client.CurrentPlayback(ctx)
	if err != nil {
		if ctx.Err() == nil {
			zlog.Warn().Err(err).Msg("monitor: failed to fetch playback")
		}
		snap = nil
	}

	m.present(onSnapshot, snap)

	if !snap.IsActive() {
		m.setState(StateIdle)
		return
	}

	if !snap.PlaysFrom(m.config.CollectionURI) {
		if m.setState(StateUntracked) != StateUntracked {
			zlog.Warn().Msgf("monitor: playing from %q, not the saved tracks; skips are not recorded", snap.ContextURI)
			m.sendEvent(Event{
				Type:       EventContextMismatch,
				Track:      snap.Track,
				State:      StateUntracked,
				ContextURI: snap.ContextURI,
				At:         m.config.Now(),
			})
		}
		return
	}

	m.setState(StateRecording)
	m.observe(ctx, snap)
}

// present hands the snapshot to the sink. A failing sink never affects the loop.
func (m *Monitor) present(onSnapshot SnapshotFunc, snap *track.Snapshot) {
	if onSnapshot == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("monitor: snapshot callback panicked: %v", r)
		}
	}()
	onSnapshot(snap)
}

// observe runs the transition pipeline for an active snapshot from the collection.
func (m *Monitor) observe(ctx context.Context, snap *track.Snapshot) {
	current := snap.Track
	if m.last == nil || m.last.ID != current.ID {
		m.transition(ctx, current)
	}
	m.lastProgress = snap.Progress
}

func (m *Monitor) transition(ctx context.Context, current *track.Track) {
	prev := m.last
	zlog.Info().Msgf("monitor: now playing %s - %s", current.ArtistNames(), current.Name)

	if prev != nil && m.shouldClassify(ctx, current.ID) {
		m.classify(ctx, prev)
	}

	m.store.Ensure(current.ID)
	m.order.Push(current.ID)
	m.last = current

	m.sendEvent(Event{Type: EventTrackChanged, Track: current, State: StateRecording, At: m.config.Now()})
}

// shouldClassify reports whether entering trackID is treated as a forward move
// that makes the previous track a skip candidate.
func (m *Monitor) shouldClassify(ctx context.Context, trackID string) bool {
	if m.order.Contains(trackID) {
		zlog.Debug().Msgf("monitor: %s was played recently in this session, not classifying", trackID)
		return false
	}

	recent, err := m.client.RecentlyPlayed(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("monitor: failed to fetch recently played, not classifying")
		return false
	}
	for _, id := range recent {
		if id == trackID {
			zlog.Debug().Msgf("monitor: %s is in recently played, not classifying", trackID)
			return false
		}
	}
	return true
}

func (m *Monitor) classify(ctx context.Context, prev *track.Track) {
	if !skip.IsSkippedEarly(m.lastProgress, prev.Duration, m.config.ProgressThreshold) {
		st := m.store.RecordListen(prev.ID)
		zlog.Info().Msgf("monitor: listened %s - %s (%d listens)", prev.ArtistNames(), prev.Name, st.NotSkipped)
		m.sendEvent(Event{Type: EventTrackListened, Track: prev, Stats: &st, State: StateRecording, At: m.config.Now()})
		return
	}

	now := m.config.Now()
	st := m.store.RecordSkip(prev.ID, now)
	zlog.Info().Msgf("monitor: skipped %s - %s at %s/%s (%d skips)",
		prev.ArtistNames(), prev.Name, m.lastProgress.Truncate(time.Second), prev.Duration.Truncate(time.Second), st.Skipped)
	m.sendEvent(Event{Type: EventTrackSkipped, Track: prev, Stats: &st, State: StateRecording, At: now})

	if st.Skipped >= m.config.SkipThreshold {
		m.unlike(ctx, prev, st)
	}
}

// unlike removes the track from the library and drops its statistics.
// On failure the statistics are kept so the next qualifying skip retries.
func (m *Monitor) unlike(ctx context.Context, t *track.Track, st skip.TrackStats) {
	if err := m.client.UnlikeTrack(ctx, t.ID); err != nil {
		zlog.Error().Err(err).Msgf("monitor: failed to unlike %s - %s", t.ArtistNames(), t.Name)
		m.sendEvent(Event{Type: EventUnlikeFailed, Track: t, Stats: &st, Err: err, State: StateRecording, At: m.config.Now()})
		return
	}
	m.store.Remove(t.ID)
	zlog.Info().Msgf("monitor: unliked %s - %s after %d skips", t.ArtistNames(), t.Name, st.Skipped)
	m.sendEvent(Event{Type: EventTrackUnliked, Track: t, Stats: &st, State: StateRecording, At: m.config.Now()})
}

// setState stores s and returns the previous state.
func (m *Monitor) setState(s State) State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	prev := m.state
	m.state = s
	return prev
}

func (m *Monitor) sendEvent(e Event) {
	select {
	case m.events <- e:
	default:
		zlog.Debug().Msgf("monitor: event channel full, dropping %s", e.Type)
	}
}
