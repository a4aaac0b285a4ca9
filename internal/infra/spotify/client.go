// Package spotify provides a client for the Spotify API.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/osa030/skiptracker/internal/domain/track"
)

// ErrNoPlayback indicates that no track is currently loaded in the player.
var ErrNoPlayback = errors.New("no track playing")

// recentlyPlayedLimit is the page size of the recently played lookup.
const recentlyPlayedLimit = 50

// Scopes are the OAuth scopes the tracker needs.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserReadRecentlyPlayed,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopeUserLibraryModify,
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration

	userMu sync.Mutex
	userID string
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	RequestsPerSecond float64       // Outbound pacing, 0 disables it
	MaxRetries        int           // Attempts for retryable failures
	RetryDelay        time.Duration // Base delay, multiplied by the attempt number
	Timeout           time.Duration // Per-request timeout
	BaseURL           string        // API base URL override
}

// New creates a new Spotify client with an auto-refreshing token.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := NewAuthenticator(cfg.ClientID, cfg.ClientSecret, "")

	// Create token from refresh token
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	// Get HTTP client with auto-refresh capability
	return NewWithHTTPClient(auth.Client(ctx, token), cfg), nil
}

// NewAuthenticator builds the OAuth authenticator used by the tracker and the auth tool.
func NewAuthenticator(clientID, clientSecret, redirectURL string) *spotifyauth.Authenticator {
	opts := []spotifyauth.AuthenticatorOption{
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithScopes(Scopes...),
	}
	if redirectURL != "" {
		opts = append(opts, spotifyauth.WithRedirectURL(redirectURL))
	}
	return spotifyauth.New(opts...)
}

// NewWithHTTPClient creates a client on top of an already authorized HTTP client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	opts := []spotify.ClientOption{spotify.WithRetry(true)}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, spotify.WithBaseURL(base))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		client:     spotify.New(httpClient, opts...),
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		timeout:    timeout,
	}
}

// CurrentPlayback returns the current player state, or nil when nothing is loaded.
func (c *Client) CurrentPlayback(ctx context.Context) (*track.Snapshot, error) {
	var state *spotify.PlayerState
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		state, err = c.client.PlayerState(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get player state")
	}

	snap, err := convertPlayerState(state)
	if errors.Is(err, ErrNoPlayback) {
		return nil, nil
	}
	return snap, err
}

// RecentlyPlayed returns the ids of the most recently played tracks, newest first.
func (c *Client) RecentlyPlayed(ctx context.Context) ([]string, error) {
	var items []spotify.RecentlyPlayedItem
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		items, err = c.client.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: recentlyPlayedLimit})
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get recently played tracks")
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Track.ID != "" {
			ids = append(ids, string(item.Track.ID))
		}
	}
	return ids, nil
}

// UnlikeTrack removes a track from the user's saved tracks.
func (c *Client) UnlikeTrack(ctx context.Context, trackID string) error {
	id := spotify.ID(extractTrackID(trackID))
	err := c.retry(ctx, func(ctx context.Context) error {
		return c.client.RemoveTracksFromLibrary(ctx, id)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to remove track %s from library", id)
	}
	return nil
}

// UserID returns the current user's id. The first successful lookup is cached.
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	if c.userID != "" {
		return c.userID, nil
	}

	var user *spotify.PrivateUser
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		user, err = c.client.CurrentUser(ctx)
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get current user")
	}
	if user.ID == "" {
		return "", errors.New("current user has no id")
	}
	c.userID = user.ID
	return c.userID, nil
}

// CollectionContextURI returns the context URI of the user's saved tracks.
func (c *Client) CollectionContextURI(ctx context.Context) (string, error) {
	id, err := c.UserID(ctx)
	if err != nil {
		return "", err
	}
	return track.CollectionContextURI(id), nil
}

// convertPlayerState converts a Spotify player state to a domain snapshot.
func convertPlayerState(state *spotify.PlayerState) (*track.Snapshot, error) {
	if state == nil || state.Item == nil {
		return nil, ErrNoPlayback
	}
	return &track.Snapshot{
		Track:      convertTrack(state.Item),
		IsPlaying:  state.Playing,
		Progress:   time.Duration(state.Progress) * time.Millisecond,
		ContextURI: string(state.PlaybackContext.URI),
	}, nil
}

// convertTrack converts a Spotify FullTrack to domain Track.
func convertTrack(t *spotify.FullTrack) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var albumArt string
	if len(t.Album.Images) > 0 {
		albumArt = t.Album.Images[0].URL
	}

	return &track.Track{
		ID:          string(t.ID),
		Name:        t.Name,
		Artists:     artists,
		Album:       t.Album.Name,
		AlbumArtURL: albumArt,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
		URL:         GetTrackURL(string(t.ID)),
	}
}

// GetTrackURL returns the Spotify URL for a track.
func GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry runs fn with pacing and a per-attempt timeout, retrying rate limit and
// server errors with linear backoff.
func (c *Client) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter")
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}

		if i < c.maxRetries-1 {
			delay := c.retryDelay * time.Duration(i+1)
			zlog.Debug().Err(err).Msgf("spotify: attempt %d/%d failed, retrying in %s", i+1, c.maxRetries, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
