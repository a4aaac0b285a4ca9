package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/skiptracker/internal/app/monitor"
	"github.com/osa030/skiptracker/internal/domain/skip"
	"github.com/osa030/skiptracker/internal/domain/track"
)

type recordingStream struct {
	mu    sync.Mutex
	got   []*Notification
	err   error
	delay time.Duration
}

func (s *recordingStream) Send(n *Notification) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestBroadcast(t *testing.T) {
	m := NewManager()
	a := &recordingStream{}
	b := &recordingStream{err: errors.New("closed")}
	m.Subscribe(a)
	id, done := m.Subscribe(b)
	assert.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(&Notification{Type: "track_changed"})
	m.Broadcast(&Notification{Type: "track_skipped"})

	require.Equal(t, 2, a.count())
	assert.Equal(t, uint64(1), a.got[0].SequenceNo)
	assert.Equal(t, uint64(2), a.got[1].SequenceNo)
	assert.Equal(t, 2, b.count())

	m.Unsubscribe(id)
	assertClosed(t, done)
	m.Unsubscribe(id)
	m.Broadcast(&Notification{Type: "track_listened"})
	assert.Equal(t, 3, a.count())
	assert.Equal(t, 2, b.count())

	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestClose_EndsSubscriptions(t *testing.T) {
	m := NewManager()
	_, first := m.Subscribe(&recordingStream{})
	_, second := m.Subscribe(&recordingStream{})

	m.Close()
	assertClosed(t, first)
	assertClosed(t, second)
	assert.Equal(t, 0, m.SubscriberCount())

	// Subscriptions after Close end immediately
	_, late := m.Subscribe(&recordingStream{})
	assertClosed(t, late)
	assert.Equal(t, 0, m.SubscriberCount())

	// A second Close is harmless
	m.Close()
}

func assertClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscription done channel was not closed")
	}
}

func TestBroadcast_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager()
	m.Subscribe(&recordingStream{delay: 2 * time.Second})
	fast := &recordingStream{}
	m.Subscribe(fast)

	start := time.Now()
	m.Broadcast(&Notification{Type: "track_changed"})
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, fast.count())
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st := skip.TrackStats{Skipped: 3, NotSkipped: 1}

	n := FromEvent(monitor.Event{
		Type:  monitor.EventTrackSkipped,
		Track: &track.Track{ID: "t1", Name: "Song", Artists: []string{"A"}},
		Stats: &st,
		State: monitor.StateRecording,
		At:    at,
	})
	assert.Equal(t, "track_skipped", n.Type)
	assert.Equal(t, "2024-06-01T12:00:00Z", n.Time)
	assert.Equal(t, "t1", n.TrackID)
	assert.Equal(t, "A", n.Artists)
	require.NotNil(t, n.Skipped)
	assert.Equal(t, 3, *n.Skipped)
	assert.Equal(t, "recording", n.State)

	crit := FromEvent(monitor.Event{Type: monitor.EventCritical, Err: errors.New("boom")})
	assert.Equal(t, "critical", crit.Type)
	assert.Equal(t, "boom", crit.Error)
	assert.Empty(t, crit.TrackID)
	assert.Nil(t, crit.Skipped)
}
