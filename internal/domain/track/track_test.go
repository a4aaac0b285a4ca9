package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_ArtistNames(t *testing.T) {
	tests := []struct {
		name     string
		artists  []string
		expected string
	}{
		{name: "single artist", artists: []string{"Queen"}, expected: "Queen"},
		{name: "multiple artists", artists: []string{"Queen", "David Bowie"}, expected: "Queen, David Bowie"},
		{name: "no artists", artists: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &Track{Artists: tt.artists}
			assert.Equal(t, tt.expected, tr.ArtistNames())
		})
	}
}

func TestSnapshot_IsActive(t *testing.T) {
	playing := &Track{ID: "track123", Duration: 3 * time.Minute}

	tests := []struct {
		name     string
		snapshot *Snapshot
		expected bool
	}{
		{name: "nil snapshot", snapshot: nil, expected: false},
		{name: "playing track", snapshot: &Snapshot{Track: playing, IsPlaying: true}, expected: true},
		{name: "paused track", snapshot: &Snapshot{Track: playing, IsPlaying: false}, expected: false},
		{name: "no item", snapshot: &Snapshot{IsPlaying: true}, expected: false},
		{name: "item without id", snapshot: &Snapshot{Track: &Track{}, IsPlaying: true}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.snapshot.IsActive())
		})
	}
}

func TestSnapshot_PlaysFrom(t *testing.T) {
	collection := CollectionContextURI("alice")
	assert.Equal(t, "spotify:user:alice:collection", collection)

	s := &Snapshot{ContextURI: collection}
	assert.True(t, s.PlaysFrom(collection))
	assert.False(t, s.PlaysFrom("spotify:playlist:37i9dQZF1DXcBWIGoYBM5M"))
	assert.False(t, s.PlaysFrom(""), "empty context never matches")

	var nilSnapshot *Snapshot
	assert.False(t, nilSnapshot.PlaysFrom(collection))
}
