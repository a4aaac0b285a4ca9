// Package track provides the Track and playback Snapshot domain types.
package track

import (
	"strings"
	"time"
)

// Track represents a Spotify track entity.
// Contains only information retrieved from Spotify API.
type Track struct {
	ID          string        // Spotify Track ID
	Name        string        // Track name
	Artists     []string      // Artist names
	Album       string        // Album name
	AlbumArtURL string        // Album art URL
	Duration    time.Duration // Track duration
	URL         string        // Spotify URL
}

// ArtistNames returns the artist names joined with ", ".
func (t *Track) ArtistNames() string {
	return strings.Join(t.Artists, ", ")
}

// Snapshot is one observation of what the user is currently playing.
type Snapshot struct {
	Track      *Track        // Current item (nil for episodes or ads)
	IsPlaying  bool          // false when paused
	Progress   time.Duration // Position inside the current track
	ContextURI string        // e.g. "spotify:user:<id>:collection" or a playlist URI
}

// IsActive reports whether the snapshot describes a track that is actually playing.
func (s *Snapshot) IsActive() bool {
	return s != nil && s.IsPlaying && s.Track != nil && s.Track.ID != ""
}

// PlaysFrom reports whether playback originates from the given context URI.
func (s *Snapshot) PlaysFrom(contextURI string) bool {
	return s != nil && contextURI != "" && s.ContextURI == contextURI
}

// CollectionContextURI returns the context URI Spotify reports when playing
// from the user's saved tracks ("Liked Songs").
func CollectionContextURI(userID string) string {
	return "spotify:user:" + userID + ":collection"
}
