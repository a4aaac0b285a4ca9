// Package httpapi provides the JSON status API of the tracker.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/skiptracker/internal/app/notification"
	"github.com/osa030/skiptracker/internal/app/stats"
	"github.com/osa030/skiptracker/internal/app/status"
	"github.com/osa030/skiptracker/internal/app/sweep"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

// StatusSource builds the status payload.
type StatusSource interface {
	BuildInfo(trackedTracks int) *status.Info
}

// StatsSource lists the stored statistics.
type StatsSource interface {
	Entries() []stats.Entry
	Len() int
}

// SweepRunner runs the batch sweep.
type SweepRunner interface {
	Run(ctx context.Context) (*sweep.Result, error)
}

// Subscriber registers event streams.
type Subscriber interface {
	Subscribe(stream notification.Stream) (string, <-chan struct{})
	Unsubscribe(subscriptionID string)
}

// Server serves the status API.
type Server struct {
	status     StatusSource
	stats      StatsSource
	sweeper    SweepRunner
	subscriber Subscriber
	adminToken string
	mux        *http.ServeMux
}

// NewServer creates the API server and registers its routes.
func NewServer(statusSrc StatusSource, statsSrc StatsSource, sweeper SweepRunner, subscriber Subscriber, adminToken string) *Server {
	s := &Server{
		status:     statusSrc,
		stats:      statsSrc,
		sweeper:    sweeper,
		subscriber: subscriber,
		adminToken: adminToken,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.Handle("POST /api/sweep", s.requireAdmin(http.HandlerFunc(s.handleSweep)))
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the API wrapped for HTTP/2 cleartext (h2c) support.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s, &http2.Server{})
}

// requireAdmin validates the admin token header.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.BuildInfo(s.stats.Len()))
}

// StatsRow is one track in the stats listing.
type StatsRow struct {
	TrackID      string   `json:"track_id"`
	Skipped      int      `json:"skipped"`
	NotSkipped   int      `json:"not_skipped"`
	LastSkipped  *string  `json:"last_skipped"`
	SkippedDates []string `json:"skipped_dates"`
}

// StatsResponse is the payload of GET /api/stats.
type StatsResponse struct {
	Count  int        `json:"count"`
	Tracks []StatsRow `json:"tracks"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	entries := s.stats.Entries()
	resp := StatsResponse{Count: len(entries), Tracks: make([]StatsRow, 0, len(entries))}
	for _, e := range entries {
		row := StatsRow{
			TrackID:      e.TrackID,
			Skipped:      e.Stats.Skipped,
			NotSkipped:   e.Stats.NotSkipped,
			SkippedDates: make([]string, len(e.Stats.SkippedDates)),
		}
		if e.Stats.LastSkipped != nil {
			ls := e.Stats.LastSkipped.String()
			row.LastSkipped = &ls
		}
		for i, d := range e.Stats.SkippedDates {
			row.SkippedDates[i] = d.String()
		}
		resp.Tracks = append(resp.Tracks, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.sweeper.Run(r.Context())
	if errors.Is(err, sweep.ErrInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		zlog.Error().Err(err).Msg("api: sweep failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("api: failed to write response")
	}
}
