package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/skiptracker/internal/app/stats"
	"github.com/osa030/skiptracker/internal/domain/track"
)

const collection = "spotify:user:me:collection"

type fakeClient struct {
	mu         sync.Mutex
	snapshot   *track.Snapshot
	playErr    error
	recent     []string
	recentErr  error
	unlikeErr  error
	unliked    []string
	recentHits int
	panicOnGet bool
}

func (f *fakeClient) CurrentPlayback(ctx context.Context) (*track.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnGet {
		panic("boom")
	}
	if f.playErr != nil {
		return nil, f.playErr
	}
	return f.snapshot, nil
}

func (f *fakeClient) RecentlyPlayed(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentHits++
	return f.recent, f.recentErr
}

func (f *fakeClient) UnlikeTrack(ctx context.Context, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlikeErr != nil {
		return f.unlikeErr
	}
	f.unliked = append(f.unliked, trackID)
	return nil
}

func (f *fakeClient) play(id string, duration, progress int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = &track.Snapshot{
		Track:      &track.Track{ID: id, Name: id, Artists: []string{"Artist"}, Duration: ms(duration)},
		IsPlaying:  true,
		Progress:   ms(progress),
		ContextURI: collection,
	}
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

type harness struct {
	client *fakeClient
	store  *stats.Store
	mon    *Monitor
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		client: &fakeClient{},
		store:  stats.New(filepath.Join(t.TempDir(), "skip_count.json")),
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local),
	}
	_, err := h.store.Load()
	require.NoError(t, err)
	h.mon = New(h.client, h.store, Config{
		SkipThreshold:     5,
		ProgressThreshold: 0.42,
		CollectionURI:     collection,
		Now:               func() time.Time { return h.now },
	})
	return h
}

func (h *harness) tick() {
	h.mon.tick(context.Background(), nil)
}

func (h *harness) drain() []EventType {
	var out []EventType
	for {
		select {
		case e := <-h.mon.events:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestScenario_SkipRecorded(t *testing.T) {
	h := newHarness(t)

	h.client.play("T1", 200000, 1000)
	h.tick()
	h.client.play("T1", 200000, 50000)
	h.tick()
	h.client.play("T2", 180000, 0)
	h.tick()

	st, ok := h.store.Get("T1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Skipped)
	assert.Len(t, st.SkippedDates, 1)
	assert.Equal(t, "2024-06-01T12:00:00", st.LastSkipped.String())
	assert.Equal(t, 0, st.NotSkipped)
	assert.Equal(t, []string{"T1", "T2"}, h.mon.order.Items())

	_, ok = h.store.Get("T2")
	assert.True(t, ok, "entering a track creates its entry")
	assert.Contains(t, h.drain(), EventTrackSkipped)
}

func TestScenario_ListenRecorded(t *testing.T) {
	h := newHarness(t)

	h.client.play("T1", 200000, 1000)
	h.tick()
	h.client.play("T1", 200000, 150000)
	h.tick()
	h.client.play("T2", 180000, 0)
	h.tick()

	st, ok := h.store.Get("T1")
	require.True(t, ok)
	assert.Equal(t, 1, st.NotSkipped)
	assert.Equal(t, 0, st.Skipped)
	assert.Empty(t, st.SkippedDates)
	assert.Contains(t, h.drain(), EventTrackListened)
}

func TestScenario_UnlikeAtThreshold(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.store.RecordSkip("T1", h.now.Add(-time.Duration(i)*time.Hour))
	}

	h.client.play("T1", 200000, 10000)
	h.tick()
	h.client.play("T2", 200000, 0)
	h.tick()

	assert.Equal(t, []string{"T1"}, h.client.unliked)
	_, ok := h.store.Get("T1")
	assert.False(t, ok)

	reloaded := stats.New(h.store.Path())
	got, err := reloaded.Load()
	require.NoError(t, err)
	assert.NotContains(t, got, "T1")
	assert.Contains(t, h.drain(), EventTrackUnliked)
}

func TestUnlikeFailure_KeepsEntry(t *testing.T) {
	h := newHarness(t)
	h.client.unlikeErr = errors.New("network down")
	for i := 0; i < 4; i++ {
		h.store.RecordSkip("T1", h.now)
	}

	h.client.play("T1", 200000, 10000)
	h.tick()
	h.client.play("T2", 200000, 0)
	h.tick()

	st, ok := h.store.Get("T1")
	require.True(t, ok)
	assert.Equal(t, 5, st.Skipped)
	assert.Contains(t, h.drain(), EventUnlikeFailed)

	// The next qualifying skip retries the unlike.
	h.client.unlikeErr = nil
	h.client.play("T1", 200000, 0)
	h.tick()
	assert.Empty(t, h.client.unliked, "re-entering T1 from the ring classifies nothing")

	h.client.play("T3", 200000, 0)
	h.tick()
	assert.Equal(t, []string{"T1"}, h.client.unliked)
	_, ok = h.store.Get("T1")
	assert.False(t, ok)
}

func TestScenario_ContextMismatch(t *testing.T) {
	h := newHarness(t)

	var seen []*track.Snapshot
	onSnapshot := func(s *track.Snapshot) { seen = append(seen, s) }

	play := func(id string, progress int64) {
		h.client.play(id, 200000, progress)
		h.client.snapshot.ContextURI = "spotify:playlist:other"
		h.mon.tick(context.Background(), onSnapshot)
	}
	play("T1", 1000)
	play("T1", 10000)
	play("T2", 0)

	assert.Len(t, seen, 3)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.client.recentHits)
	assert.Equal(t, StateUntracked, h.mon.State())
	assert.Equal(t, []EventType{EventContextMismatch}, h.drain(), "mismatch is reported once")
}

func TestTrackOrderShortCircuit(t *testing.T) {
	h := newHarness(t)

	h.client.play("T1", 200000, 0)
	h.tick()
	h.client.play("T2", 200000, 0)
	h.tick()
	h.client.play("T2", 200000, 3000)
	h.tick()
	hits := h.client.recentHits

	// Going back to T1 must not touch T2's counters.
	h.client.play("T1", 200000, 0)
	h.tick()

	st, ok := h.store.Get("T2")
	require.True(t, ok)
	assert.Equal(t, 0, st.Skipped)
	assert.Equal(t, 0, st.NotSkipped)
	assert.Equal(t, hits, h.client.recentHits, "ring hit avoids the recently played lookup")
}

func TestRecentlyPlayedSuppressesClassification(t *testing.T) {
	h := newHarness(t)
	h.client.recent = []string{"X", "T2"}

	h.client.play("T1", 200000, 0)
	h.tick()
	h.client.play("T2", 200000, 0)
	h.tick()

	st, _ := h.store.Get("T1")
	assert.Equal(t, 0, st.Skipped)
	assert.Equal(t, 0, st.NotSkipped)
	assert.Equal(t, []string{"T1", "T2"}, h.mon.order.Items())
}

func TestRecentlyPlayedFailure_FailsOpen(t *testing.T) {
	h := newHarness(t)
	h.client.recentErr = errors.New("503")

	h.client.play("T1", 200000, 0)
	h.tick()
	h.client.play("T2", 200000, 0)
	h.tick()

	st, _ := h.store.Get("T1")
	assert.Equal(t, 0, st.Skipped)
	assert.Equal(t, 0, st.NotSkipped)
	_, ok := h.store.Get("T2")
	assert.True(t, ok)
}

func TestFirstTrackIsNotClassified(t *testing.T) {
	h := newHarness(t)

	h.client.play("T1", 200000, 0)
	h.tick()

	assert.Equal(t, 0, h.client.recentHits)
	st, ok := h.store.Get("T1")
	require.True(t, ok)
	assert.Equal(t, 0, st.Skipped)
}

func TestPausedAndErrorTicksAreIgnored(t *testing.T) {
	h := newHarness(t)

	h.client.play("T1", 200000, 0)
	h.tick()
	h.client.play("T1", 200000, 150000)
	h.tick()

	// Paused on a new track: no transition.
	h.client.play("T2", 200000, 0)
	h.client.snapshot.IsPlaying = false
	h.tick()
	assert.Equal(t, StateIdle, h.mon.State())
	_, ok := h.store.Get("T2")
	assert.False(t, ok)

	h.client.playErr = errors.New("timeout")
	h.tick()
	h.client.playErr = nil

	h.client.play("T2", 200000, 0)
	h.tick()
	st, _ := h.store.Get("T1")
	assert.Equal(t, 1, st.NotSkipped, "progress from before the pause decides")
}

func TestSnapshotCallbackPanicIsIsolated(t *testing.T) {
	h := newHarness(t)
	onSnapshot := func(*track.Snapshot) { panic("render failed") }

	h.client.play("T1", 200000, 0)
	h.mon.tick(context.Background(), onSnapshot)

	_, ok := h.store.Get("T1")
	assert.True(t, ok)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.mon.config.PollInterval = time.Millisecond
	h.client.play("T1", 200000, 0)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	done := make(chan error, 1)
	go func() {
		done <- h.mon.Run(ctx, func(*track.Snapshot) {
			calls++
			if calls == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, 3, calls)

	_, open := <-h.mon.Events()
	for open {
		_, open = <-h.mon.Events()
	}

	assert.ErrorIs(t, h.mon.Run(context.Background(), nil), ErrAlreadyRunning)
}

func TestRun_PanicBecomesCritical(t *testing.T) {
	h := newHarness(t)
	h.mon.config.PollInterval = time.Millisecond
	h.client.panicOnGet = true

	err := h.mon.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCritical))

	select {
	case got := <-h.mon.Critical():
		assert.True(t, errors.Is(got, ErrCritical))
	default:
		t.Fatal("critical error not signalled")
	}

	var types []EventType
	for e := range h.mon.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{EventCritical}, types)
}

func TestTrackOrder(t *testing.T) {
	var o trackOrder
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		o.Push(id)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, o.Items())

	o.Push("f")
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, o.Items())
	assert.False(t, o.Contains("a"))
	assert.True(t, o.Contains("f"))
	assert.Equal(t, trackOrderSize, o.Len())

	o.Push("g")
	o.Push("h")
	assert.Equal(t, []string{"d", "e", "f", "g", "h"}, o.Items())
}

func TestNew_Defaults(t *testing.T) {
	m := New(&fakeClient{}, stats.New(filepath.Join(t.TempDir(), "s.json")), Config{ProgressThreshold: 3})
	assert.Equal(t, 5, m.config.SkipThreshold)
	assert.Equal(t, 0.42, m.config.ProgressThreshold)
	assert.Equal(t, DefaultPollInterval, m.config.PollInterval)
	assert.NotEmpty(t, m.SessionID())
}
