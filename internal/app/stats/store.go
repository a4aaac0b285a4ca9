// Package stats persists per-track skip statistics in a single JSON file.
package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/skiptracker/internal/domain/skip"
)

// ErrCorrupt is returned by Load when the stats file exists but cannot be parsed.
var ErrCorrupt = errors.New("stats file is corrupt")

// maxSkipCount bounds a single track's skip count read from disk.
const maxSkipCount = 100000

// Entry is one track's statistics, used for ordered listings.
type Entry struct {
	TrackID string          `json:"track_id"`
	Stats   skip.TrackStats `json:"stats"`
}

// Store is the in-memory mapping of track id to statistics backed by a file.
// Every mutation is followed by a full rewrite of the file.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]*skip.TrackStats

	// Tracks whose missing skip dates were filled in by the last Load.
	synthesized   []string
	synthesizedAt time.Time
}

// New creates a store for the given file path. Call Load before use.
func New(path string) *Store {
	return &Store{
		path:    path,
		entries: make(map[string]*skip.TrackStats),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stats file into memory and returns a copy of its contents.
// A missing file yields an empty store. Legacy entries holding a bare skip
// count are migrated and the normalized form is written back immediately.
func (s *Store) Load() (map[string]skip.TrackStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		zlog.Info().Msgf("stats: no stats file at %s, starting empty", s.path)
		s.entries = make(map[string]*skip.TrackStats)
		return map[string]skip.TrackStats{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read stats file %s", s.path)
	}

	fallback := time.Now()
	if info, statErr := os.Stat(s.path); statErr == nil {
		fallback = info.ModTime()
	}

	entries, synthesized, err := decode(data, fallback)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse stats file %s", s.path), ErrCorrupt)
	}
	s.entries = entries
	s.synthesized = synthesized
	s.synthesizedAt = fallback
	migrated := len(synthesized)

	canonical, err := encode(s.orderedLocked())
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode stats")
	}
	if migrated > 0 || !bytes.Equal(bytes.TrimSpace(data), bytes.TrimSpace(canonical)) {
		if migrated > 0 {
			zlog.Warn().Msgf("stats: migrated %d entries, their missing skip dates are set to %s",
				migrated, skip.NewTimestamp(fallback))
		}
		if err := writeFile(s.path, canonical); err != nil {
			zlog.Error().Err(err).Msg("stats: failed to persist normalized stats")
		}
	}

	zlog.Info().Msgf("stats: loaded %d tracks from %s", len(s.entries), s.path)
	return s.snapshotLocked(), nil
}

// Synthesized returns the tracks whose missing skip dates were filled in by
// the last Load, and the time those dates carry.
func (s *Store) Synthesized() ([]string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.synthesized...), s.synthesizedAt
}

// Save writes the full mapping to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// Len returns the number of tracked tracks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns a copy of the statistics for a track.
func (s *Store) Get(trackID string) (skip.TrackStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[trackID]
	if !ok {
		return skip.TrackStats{}, false
	}
	return st.Clone(), true
}

// Snapshot returns a deep copy of the whole mapping.
func (s *Store) Snapshot() map[string]skip.TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Entries returns all tracks sorted by skip count, highest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.orderedLocked()
	for i := range ordered {
		ordered[i].Stats = ordered[i].Stats.Clone()
	}
	return ordered
}

// Ensure creates a zeroed entry for the track if none exists.
// It reports whether an entry was created.
func (s *Store) Ensure(trackID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[trackID]; ok {
		return false
	}
	s.entries[trackID] = &skip.TrackStats{SkippedDates: []skip.Timestamp{}}
	s.persistLocked()
	return true
}

// RecordSkip appends a skip event for the track and returns its updated statistics.
func (s *Store) RecordSkip(trackID string, at time.Time) skip.TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(trackID)
	st.RecordSkip(at)
	s.persistLocked()
	return st.Clone()
}

// RecordListen counts a full listen for the track and returns its updated statistics.
func (s *Store) RecordListen(trackID string) skip.TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(trackID)
	st.RecordListen()
	s.persistLocked()
	return st.Clone()
}

// Remove deletes the given tracks and saves once. It returns how many were removed.
func (s *Store) Remove(trackIDs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range trackIDs {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

func (s *Store) entryLocked(trackID string) *skip.TrackStats {
	st, ok := s.entries[trackID]
	if !ok {
		st = &skip.TrackStats{SkippedDates: []skip.Timestamp{}}
		s.entries[trackID] = st
	}
	return st
}

// persistLocked saves and logs failures; the in-memory state stays authoritative.
func (s *Store) persistLocked() {
	if err := s.saveLocked(); err != nil {
		zlog.Error().Err(err).Msgf("stats: failed to save %s", s.path)
	}
}

func (s *Store) saveLocked() error {
	data, err := encode(s.orderedLocked())
	if err != nil {
		return errors.Wrap(err, "failed to encode stats")
	}
	return writeFile(s.path, data)
}

func (s *Store) snapshotLocked() map[string]skip.TrackStats {
	out := make(map[string]skip.TrackStats, len(s.entries))
	for id, st := range s.entries {
		out[id] = st.Clone()
	}
	return out
}

func (s *Store) orderedLocked() []Entry {
	ordered := make([]Entry, 0, len(s.entries))
	for id, st := range s.entries {
		ordered = append(ordered, Entry{TrackID: id, Stats: *st})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Stats.Skipped != ordered[j].Stats.Skipped {
			return ordered[i].Stats.Skipped > ordered[j].Stats.Skipped
		}
		return ordered[i].TrackID < ordered[j].TrackID
	})
	return ordered
}

// decode parses the stats file. Bare integers are legacy skip counts.
// It returns the sorted ids of tracks whose skip dates had to be filled in.
func decode(data []byte, fallback time.Time) (map[string]*skip.TrackStats, []string, error) {
	entries := make(map[string]*skip.TrackStats)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, errors.New("empty stats file")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, errors.New("stats file is not an object")
	}

	var synthesized []string
	for id, value := range raw {
		value = bytes.TrimSpace(value)
		st := &skip.TrackStats{}
		if len(value) > 0 && value[0] != '{' {
			count, err := strconv.Atoi(string(value))
			if err != nil {
				return nil, nil, errors.Newf("track %s: unsupported value %s", id, value)
			}
			st.Skipped = count
		} else if err := json.Unmarshal(value, st); err != nil {
			return nil, nil, errors.Wrapf(err, "track %s", id)
		}
		if st.Skipped < 0 || st.Skipped > maxSkipCount {
			return nil, nil, errors.Newf("track %s: skip count %d out of range", id, st.Skipped)
		}
		if len(st.SkippedDates) < st.Skipped {
			synthesized = append(synthesized, id)
		}
		st.Reconcile(fallback)
		entries[id] = st
	}
	sort.Strings(synthesized)
	return entries, synthesized, nil
}

// encode writes an object whose keys follow the order of entries.
func encode(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if len(entries) == 0 {
		return []byte("{}\n"), nil
	}
	buf.WriteString("{\n")
	for i, e := range entries {
		key, err := json.Marshal(e.TrackID)
		if err != nil {
			return nil, err
		}
		st := e.Stats
		if st.SkippedDates == nil {
			st.SkippedDates = []skip.Timestamp{}
		}
		value, err := json.MarshalIndent(st, "    ", "    ")
		if err != nil {
			return nil, err
		}
		buf.WriteString("    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(value)
		if i < len(entries)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// writeFile replaces path atomically via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write stats")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
