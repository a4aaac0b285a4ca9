// Package sweep unlikes tracks that were skipped too often within a trailing window.
package sweep

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/skiptracker/internal/app/stats"
	"github.com/osa030/skiptracker/internal/domain/skip"
)

// ErrInProgress is returned when a sweep is requested while another one runs.
var ErrInProgress = errors.New("sweep already in progress")

// Unliker removes tracks from the user's library.
type Unliker interface {
	UnlikeTrack(ctx context.Context, trackID string) error
}

// Store is the subset of the stats store the sweep needs.
type Store interface {
	Entries() []stats.Entry
	Remove(trackIDs ...string) int
}

// Config holds sweep configuration.
type Config struct {
	SkipThreshold int
	Timeframe     skip.Timeframe
	Now           func() time.Time
}

// Failure describes a track whose unlike request failed.
type Failure struct {
	TrackID string `json:"track_id"`
	Error   string `json:"error"`
}

// Result summarizes one sweep.
type Result struct {
	Checked   int       `json:"checked"`
	Unliked   []string  `json:"unliked"`
	Failed    []Failure `json:"failed"`
	Window    string    `json:"window"`
	StartedAt time.Time `json:"started_at"`
}

// Sweeper runs the batch pass. Runs never overlap.
type Sweeper struct {
	config  Config
	store   Store
	unliker Unliker
	mu      sync.Mutex
}

// New creates a sweeper.
func New(config Config, store Store, unliker Unliker) *Sweeper {
	if config.SkipThreshold <= 0 {
		config.SkipThreshold = skip.DefaultSkipThreshold
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Sweeper{config: config, store: store, unliker: unliker}
}

// Candidates returns the tracks whose skips within the window reach the threshold,
// ordered by windowed count descending.
func (s *Sweeper) Candidates(now time.Time) []string {
	return s.candidates(s.store.Entries(), now)
}

func (s *Sweeper) candidates(entries []stats.Entry, now time.Time) []string {
	window := s.config.Timeframe.Duration()
	type candidate struct {
		id    string
		count int
	}
	var found []candidate
	for _, e := range entries {
		if n := e.Stats.SkipsWithin(now, window); n >= s.config.SkipThreshold {
			found = append(found, candidate{id: e.TrackID, count: n})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].count > found[j].count })

	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids
}

// WarnSynthesized logs the tracks whose skip dates were filled in with at
// during a stats migration, when at lies inside the sweep window. Those
// dates count toward the threshold like real skips. It returns the affected
// tracks that are currently sweep candidates.
func (s *Sweeper) WarnSynthesized(trackIDs []string, at time.Time) []string {
	if len(trackIDs) == 0 {
		return nil
	}
	now := s.config.Now()

	var sample skip.TrackStats
	sample.RecordSkip(at)
	if sample.SkipsWithin(now, s.config.Timeframe.Duration()) == 0 {
		return nil
	}

	migrated := make(map[string]bool, len(trackIDs))
	for _, id := range trackIDs {
		migrated[id] = true
	}
	var atRisk []string
	for _, id := range s.Candidates(now) {
		if migrated[id] {
			atRisk = append(atRisk, id)
		}
	}

	zlog.Warn().Msgf("sweep: %d migrated tracks have skips dated %s, inside the %s window; %d would be unliked by a sweep: %v",
		len(trackIDs), skip.NewTimestamp(at), s.config.Timeframe, len(atRisk), atRisk)
	return atRisk
}

// Run unlikes every candidate and drops the successfully unliked tracks from the store.
// Tracks whose unlike fails keep their statistics. A second run without new skips
// finds no candidates.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrInProgress
	}
	defer s.mu.Unlock()

	now := s.config.Now()
	result := &Result{
		Unliked:   []string{},
		Failed:    []Failure{},
		Window:    s.config.Timeframe.String(),
		StartedAt: now,
	}

	entries := s.store.Entries()
	candidates := s.candidates(entries, now)
	result.Checked = len(entries)
	zlog.Info().Msgf("sweep: %d of %d tracks reached %d skips within %s",
		len(candidates), result.Checked, s.config.SkipThreshold, s.config.Timeframe)

	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			s.store.Remove(result.Unliked...)
			return result, errors.Wrap(err, "sweep interrupted")
		}
		if err := s.unliker.UnlikeTrack(ctx, id); err != nil {
			zlog.Error().Err(err).Msgf("sweep: failed to unlike %s", id)
			result.Failed = append(result.Failed, Failure{TrackID: id, Error: err.Error()})
			continue
		}
		result.Unliked = append(result.Unliked, id)
	}

	if len(result.Unliked) > 0 {
		s.store.Remove(result.Unliked...)
	}
	zlog.Info().Msgf("sweep: unliked %d tracks, %d failed", len(result.Unliked), len(result.Failed))
	return result, nil
}
