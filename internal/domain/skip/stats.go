package skip

import "time"

// TrackStats holds the accumulated skip history of one track.
// Skipped always equals len(SkippedDates).
type TrackStats struct {
	Skipped      int         `json:"skipped"`
	NotSkipped   int         `json:"not_skipped"`
	LastSkipped  *Timestamp  `json:"last_skipped"`
	SkippedDates []Timestamp `json:"skipped_dates"`
}

// RecordSkip appends a skip event at the given time and returns the new skip count.
func (s *TrackStats) RecordSkip(at time.Time) int {
	ts := NewTimestamp(at)
	s.SkippedDates = append(s.SkippedDates, ts)
	s.Skipped = len(s.SkippedDates)
	s.LastSkipped = &ts
	return s.Skipped
}

// RecordListen counts a full listen.
func (s *TrackStats) RecordListen() int {
	s.NotSkipped++
	return s.NotSkipped
}

// SkipsWithin counts skip events no older than window relative to now.
func (s *TrackStats) SkipsWithin(now time.Time, window time.Duration) int {
	count := 0
	for _, d := range s.SkippedDates {
		if now.Sub(d.Time) <= window {
			count++
		}
	}
	return count
}

// Reconcile restores Skipped == len(SkippedDates) for records written by
// older versions. Missing dates are filled with fallback, surplus dates win
// over a smaller counter. It reports whether anything changed.
func (s *TrackStats) Reconcile(fallback time.Time) bool {
	changed := false
	if s.SkippedDates == nil {
		s.SkippedDates = []Timestamp{}
		changed = true
	}
	for len(s.SkippedDates) < s.Skipped {
		s.SkippedDates = append(s.SkippedDates, NewTimestamp(fallback))
		changed = true
	}
	if s.Skipped != len(s.SkippedDates) {
		s.Skipped = len(s.SkippedDates)
		changed = true
	}
	if s.LastSkipped == nil && len(s.SkippedDates) > 0 {
		last := s.SkippedDates[len(s.SkippedDates)-1]
		s.LastSkipped = &last
		changed = true
	}
	if s.NotSkipped < 0 {
		s.NotSkipped = 0
		changed = true
	}
	return changed
}

// Clone returns a deep copy.
func (s TrackStats) Clone() TrackStats {
	out := s
	if s.LastSkipped != nil {
		ts := *s.LastSkipped
		out.LastSkipped = &ts
	}
	out.SkippedDates = make([]Timestamp, len(s.SkippedDates))
	copy(out.SkippedDates, s.SkippedDates)
	return out
}
