package skip

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func TestIsSkippedEarly(t *testing.T) {
	tests := []struct {
		name      string
		progress  int64
		duration  int64
		threshold float64
		expected  bool
	}{
		{name: "quarter of a long track", progress: 50000, duration: 200000, threshold: 0.42, expected: true},
		{name: "three quarters of a long track", progress: 150000, duration: 200000, threshold: 0.42, expected: false},
		{name: "exactly at threshold is not a skip", progress: 84000, duration: 200000, threshold: 0.42, expected: false},
		{name: "just below threshold", progress: 83999, duration: 200000, threshold: 0.42, expected: true},
		{name: "short track uses the same rule", progress: 50000, duration: 100000, threshold: 0.42, expected: false},
		{name: "short track below threshold", progress: 41000, duration: 100000, threshold: 0.42, expected: true},
		{name: "zero progress", progress: 0, duration: 200000, threshold: 0.42, expected: true},
		{name: "zero duration", progress: 0, duration: 0, threshold: 0.42, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSkippedEarly(ms(tt.progress), ms(tt.duration), tt.threshold))
		})
	}
}

func TestIsSkippedEarly_MatchesFormula(t *testing.T) {
	thresholds := []float64{0.01, 0.1, 0.25, 0.42, 0.5, 0.75, 0.99}
	durations := []int64{1000, 61000, 119999, 120000, 200000, 354321}

	for _, th := range thresholds {
		for _, d := range durations {
			for p := int64(0); p <= d; p += d / 37 {
				want := float64(p) < float64(d)*th
				got := IsSkippedEarly(ms(p), ms(d), th)
				require.Equal(t, want, got, "progress=%d duration=%d threshold=%v", p, d, th)
			}
		}
	}
}

func TestNormalizeProgressThreshold(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
		ok       bool
	}{
		{name: "valid value kept", input: 0.6, expected: 0.6, ok: true},
		{name: "zero reset", input: 0, expected: DefaultProgressThreshold, ok: false},
		{name: "one reset", input: 1, expected: DefaultProgressThreshold, ok: false},
		{name: "negative reset", input: -0.3, expected: DefaultProgressThreshold, ok: false},
		{name: "above one reset", input: 42, expected: DefaultProgressThreshold, ok: false},
		{name: "NaN reset", input: math.NaN(), expected: DefaultProgressThreshold, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeProgressThreshold(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 999, time.Local)
	ts := NewTimestamp(at)

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-09T14:05:07"`, string(data))

	var decoded Timestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(ts.Time))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`12`), &decoded))
}

func TestTrackStats_RecordSkip(t *testing.T) {
	var s TrackStats
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

	assert.Equal(t, 1, s.RecordSkip(base))
	assert.Equal(t, 2, s.RecordSkip(base.Add(time.Hour)))

	assert.Equal(t, 2, s.Skipped)
	assert.Len(t, s.SkippedDates, s.Skipped)
	require.NotNil(t, s.LastSkipped)
	assert.Equal(t, "2024-01-01T13:00:00", s.LastSkipped.String())

	assert.Equal(t, 1, s.RecordListen())
	assert.Equal(t, 2, s.Skipped, "listens never touch the skip counter")
}

func TestTrackStats_SkipsWithin(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.Local)
	s := TrackStats{}
	s.RecordSkip(now.Add(-10 * day))
	s.RecordSkip(now.Add(-7 * day))
	s.RecordSkip(now.Add(-2 * day))
	s.RecordSkip(now.Add(-time.Minute))

	assert.Equal(t, 3, s.SkipsWithin(now, 7*day), "boundary is inclusive")
	assert.Equal(t, 2, s.SkipsWithin(now, 3*day))
	assert.Equal(t, 4, s.SkipsWithin(now, 30*day))
	assert.Equal(t, 0, s.SkipsWithin(now, 0))
}

func TestTrackStats_Reconcile(t *testing.T) {
	fallback := time.Date(2023, 12, 24, 8, 0, 0, 0, time.Local)

	t.Run("legacy counter without dates", func(t *testing.T) {
		s := TrackStats{Skipped: 3}
		assert.True(t, s.Reconcile(fallback))
		assert.Equal(t, 3, s.Skipped)
		assert.Len(t, s.SkippedDates, 3)
		require.NotNil(t, s.LastSkipped)
		assert.Equal(t, "2023-12-24T08:00:00", s.LastSkipped.String())
	})

	t.Run("dates outnumber counter", func(t *testing.T) {
		s := TrackStats{Skipped: 1}
		s.SkippedDates = []Timestamp{NewTimestamp(fallback), NewTimestamp(fallback)}
		assert.True(t, s.Reconcile(fallback))
		assert.Equal(t, 2, s.Skipped)
	})

	t.Run("consistent record untouched", func(t *testing.T) {
		s := TrackStats{}
		s.RecordSkip(fallback)
		before := s.Clone()
		assert.False(t, s.Reconcile(fallback.Add(time.Hour)))
		assert.Equal(t, before, s)
	})
}

func TestTimeframe_Duration(t *testing.T) {
	tests := []struct {
		tf       Timeframe
		expected time.Duration
	}{
		{Timeframe{Value: 3, Unit: UnitDays}, 3 * day},
		{Timeframe{Value: 1, Unit: UnitWeeks}, 7 * day},
		{Timeframe{Value: 2, Unit: UnitMonths}, 60 * day},
		{Timeframe{Value: 1, Unit: UnitYears}, 365 * day},
		{Timeframe{Value: 2, Unit: "WEEKS"}, 14 * day},
		{Timeframe{Value: 4, Unit: "fortnights"}, 4 * day},
	}

	for _, tt := range tests {
		t.Run(tt.tf.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.tf.Duration())
		})
	}

	assert.True(t, UnitMonths.Known())
	assert.False(t, Unit("fortnights").Known())
}
