// Package main provides the CLI client for a running tracker.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/osa030/skiptracker/internal/api/httpapi"
	"github.com/osa030/skiptracker/internal/app/notification"
	"github.com/osa030/skiptracker/internal/app/status"
	"github.com/osa030/skiptracker/internal/app/sweep"
	"github.com/osa030/skiptracker/internal/domain/skip"
)

var (
	app    = kingpin.New("skiptracker-cli", "skiptracker client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Get tracker status")

	// stats command
	statsCmd   = app.Command("stats", "List tracked tracks, most skipped first")
	statsLimit = statsCmd.Flag("limit", "Number of tracks to print (0 for all)").Default("20").Int()

	// sweep command
	sweepCmd = app.Command("sweep", "Unlike tracks skipped too often within the configured window")

	// watch command
	watchCmd = app.Command("watch", "Stream tracker events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := &http.Client{Timeout: 30 * time.Second}
	ctx := context.Background()

	// Execute command
	switch command {
	case statusCmd.FullCommand():
		showStatus(ctx, client)
	case statsCmd.FullCommand():
		showStats(ctx, client, *statsLimit)
	case sweepCmd.FullCommand():
		// Check admin token
		if *token == "" {
			fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
			os.Exit(1)
		}
		runSweep(ctx, client, *token)
	case watchCmd.FullCommand():
		// Streams stay open; no client timeout
		watch(ctx, &http.Client{})
	}
}

// call performs a request and decodes the JSON response into out.
func call(ctx context.Context, client *http.Client, method, path, adminToken string, out any) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(*server, "/")+path, nil)
	if err != nil {
		fail(err)
	}
	if adminToken != "" {
		req.Header.Set(httpapi.AdminTokenHeader, adminToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			fail(fmt.Errorf("%s: %s", resp.Status, apiErr.Error))
		}
		fail(fmt.Errorf("%s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func showStatus(ctx context.Context, client *http.Client) {
	var s status.Info
	call(ctx, client, http.MethodGet, "/api/status", "", &s)

	fmt.Println("\n=== TRACKER STATUS ===")
	fmt.Printf("Session ID: %s\n", s.SessionID)
	fmt.Printf("Phase: %s\n", s.Phase)
	fmt.Printf("Monitor: %s\n", formatMonitorState(s.MonitorState))
	fmt.Printf("Saved tracks context: %s\n", s.CollectionURI)
	if s.StartedAt != "" {
		fmt.Printf("Started: %s\n", formatTime(s.StartedAt))
	}
	if s.LastPollAt != "" {
		fmt.Printf("Last poll: %s\n", formatTime(s.LastPollAt))
	}
	if s.LastError != "" {
		fmt.Printf("Last error: %s\n", s.LastError)
	}
	fmt.Printf("Tracked tracks: %s\n", humanize.Comma(int64(s.TrackedTracks)))

	fmt.Println("\nThis session:")
	fmt.Printf("  Skips: %d\n", s.Session.Skips)
	fmt.Printf("  Listens: %d\n", s.Session.Listens)
	fmt.Printf("  Unliked: %d\n", s.Session.Unlikes)
	fmt.Printf("  Unlike failures: %d\n", s.Session.UnlikeFailures)

	if np := s.NowPlaying; np != nil {
		fmt.Printf("\nNow Playing:\n")
		fmt.Printf("  Track ID: %s\n", np.TrackID)
		fmt.Printf("  Name: %s\n", np.Name)
		fmt.Printf("  Artists: %s\n", np.Artists)
		if np.Album != "" {
			fmt.Printf("  Album: %s\n", np.Album)
		}
		fmt.Printf("  URL: %s\n", np.URL)
		fmt.Printf("  Progress: %s / %s\n", formatMs(np.ProgressMs), formatMs(np.DurationMs))
		fmt.Printf("  Playing: %v\n", np.IsPlaying)
		fmt.Printf("  Context: %s\n", np.ContextURI)
	} else {
		fmt.Println("\nNothing playing")
	}
	fmt.Println()
}

func showStats(ctx context.Context, client *http.Client, limit int) {
	var resp httpapi.StatsResponse
	call(ctx, client, http.MethodGet, "/api/stats", "", &resp)

	fmt.Printf("Tracked tracks (%s):\n", humanize.Comma(int64(resp.Count)))
	rows := resp.Tracks
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i, r := range rows {
		last := "never"
		if r.LastSkipped != nil {
			if ts, err := skip.ParseTimestamp(*r.LastSkipped); err == nil {
				last = humanize.Time(ts.Time)
			}
		}
		fmt.Printf("  %4s %s: skipped %d, played %d (last skip %s)\n",
			humanize.Ordinal(i+1), r.TrackID, r.Skipped, r.NotSkipped, last)
	}
}

func runSweep(ctx context.Context, client *http.Client, adminToken string) {
	var result sweep.Result
	call(ctx, client, http.MethodPost, "/api/sweep", adminToken, &result)

	fmt.Printf("Checked %s tracks (window %s)\n", humanize.Comma(int64(result.Checked)), result.Window)
	fmt.Printf("Unliked (%d):\n", len(result.Unliked))
	for _, id := range result.Unliked {
		fmt.Printf("  %s\n", id)
	}
	if len(result.Failed) > 0 {
		fmt.Printf("Failed (%d):\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("  %s: %s\n", f.TrackID, f.Error)
		}
	}
}

func watch(ctx context.Context, client *http.Client) {
	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*server, "/")+"/api/events", nil)
	if err != nil {
		fail(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail(fmt.Errorf("%s", resp.Status))
	}

	fmt.Println("Watching events... (Ctrl+C to stop)")

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var n notification.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			fmt.Printf("Malformed event: %v\n", err)
			continue
		}
		printNotification(&n)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fail(err)
	}
	fmt.Println("\nStopped")
}

func printNotification(n *notification.Notification) {
	at := n.Time
	if t, err := time.Parse(time.RFC3339, n.Time); err == nil {
		at = t.Format(time.TimeOnly)
	}
	fmt.Printf("[%s] #%d %s", at, n.SequenceNo, formatEventType(n.Type))
	if n.TrackID != "" {
		fmt.Printf(" %s", n.TrackID)
		if n.TrackName != "" {
			fmt.Printf(" (%s - %s)", n.TrackName, n.Artists)
		}
	}
	if n.Skipped != nil && n.NotSkipped != nil {
		fmt.Printf(" skipped=%d played=%d", *n.Skipped, *n.NotSkipped)
	}
	if n.ContextURI != "" && n.Type == "context_mismatch" {
		fmt.Printf(" context=%s", n.ContextURI)
	}
	if n.Error != "" {
		fmt.Printf(" error=%s", n.Error)
	}
	fmt.Println()
}

func formatEventType(t string) string {
	switch t {
	case "track_changed":
		return "▶️  Changed"
	case "track_skipped":
		return "⏭  Skipped"
	case "track_listened":
		return "🎧 Listened"
	case "track_unliked":
		return "💔 Unliked"
	case "unlike_failed":
		return "⚠️  Unlike failed"
	case "context_mismatch":
		return "⏸  Not recording"
	case "critical":
		return "🛑 Critical"
	default:
		return t
	}
}

func formatMonitorState(state string) string {
	switch state {
	case "recording":
		return "⏺  Recording"
	case "untracked":
		return "⏸  Playing outside saved tracks (not recording)"
	case "idle":
		return "⏹  Idle"
	default:
		return "❓ " + state
	}
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format(time.DateTime), humanize.Time(t))
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
