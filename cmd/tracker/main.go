// Package main provides the tracker entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/skiptracker/internal/api/httpapi"
	"github.com/osa030/skiptracker/internal/app/monitor"
	"github.com/osa030/skiptracker/internal/app/notification"
	"github.com/osa030/skiptracker/internal/app/stats"
	"github.com/osa030/skiptracker/internal/app/status"
	"github.com/osa030/skiptracker/internal/app/sweep"
	"github.com/osa030/skiptracker/internal/infra/config"
	"github.com/osa030/skiptracker/internal/infra/logger"
	"github.com/osa030/skiptracker/internal/infra/spotify"
)

var (
	app        = kingpin.New("skiptracker", "Spotify skip tracker")
	configPath = app.Flag("config", "Path to config file").Default(config.DefaultPath).String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides log.file)").String()

	// sweep command
	sweepCmd    = app.Command("sweep", "Run the windowed unlike sweep once and exit")
	sweepDryRun = sweepCmd.Flag("dry-run", "Only list the tracks that would be unliked").Bool()

	// stats command
	statsCmd   = app.Command("stats", "Print stored skip statistics and exit")
	statsLimit = statsCmd.Flag("limit", "Number of tracks to print (0 for all)").Default("20").Int()
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start tracking (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Console logging until the config is known
	if _, err := logger.Init(logger.Config{Output: "stdout", Level: loggerConfig(nil).Level}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	closer, err := logger.Init(loggerConfig(cfg))
	if err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}
	defer closer.Close()

	switch command {
	case sweepCmd.FullCommand():
		err = runSweep(cfg, *sweepDryRun)
	case statsCmd.FullCommand():
		err = runStats(cfg, *statsLimit)
	default:
		err = run(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("Tracker error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// loggerConfig merges command-line flags over the config's log section.
func loggerConfig(cfg *config.Config) logger.Config {
	lc := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if cfg != nil {
		lc.Level = cfg.Log.Level
		lc.File = cfg.Log.File
	}
	// Override with command-line flags if specified
	if *verbose {
		lc.Level = "debug"
	}
	if *logfile != "" {
		lc.File = *logfile
	}
	return lc
}

// newSpotifyClient creates the API client from config.
func newSpotifyClient(ctx context.Context, cfg *config.Config) (*spotify.Client, error) {
	client, err := spotify.New(ctx, spotify.Config{
		ClientID:          cfg.Spotify.ClientID,
		ClientSecret:      cfg.Spotify.ClientSecret,
		RefreshToken:      cfg.Spotify.RefreshToken,
		RequestsPerSecond: cfg.Spotify.RequestsPerSecond,
		MaxRetries:        cfg.Spotify.MaxRetries,
		Timeout:           cfg.Spotify.RequestTimeout(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Spotify client")
	}
	return client, nil
}

// openStore loads the stats file. A corrupt file is fatal.
func openStore(cfg *config.Config) (*stats.Store, error) {
	store := stats.New(cfg.Store.Path)
	if _, err := store.Load(); err != nil {
		if errors.Is(err, stats.ErrCorrupt) {
			return nil, errors.Wrap(err, "refusing to start with a corrupt stats file; fix or move it away")
		}
		return nil, err
	}
	return store, nil
}

// run executes the main tracker logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spotifyClient, err := newSpotifyClient(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	// Resolve the saved tracks context of the authorized user
	collectionURI, err := resolveCollection(ctx, spotifyClient)
	if err != nil {
		return errors.Wrap(err, "failed to resolve the user's saved tracks")
	}

	mon := monitor.New(spotifyClient, store, monitor.Config{
		SkipThreshold:     cfg.Tracker.SkipThreshold,
		ProgressThreshold: cfg.Tracker.SkipProgressThreshold,
		CollectionURI:     collectionURI,
	})
	statusMgr := status.New(mon.SessionID(), collectionURI)
	notifier := notification.NewManager()
	sweeper := sweep.New(sweep.Config{
		SkipThreshold: cfg.Tracker.SkipThreshold,
		Timeframe:     cfg.Tracker.Window(),
	}, store, spotifyClient)
	sweeper.WarnSynthesized(store.Synthesized())

	api := httpapi.NewServer(statusMgr, store, sweeper, notifier, cfg.Server.AdminToken)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Forward monitor events to the status view and event subscribers
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for e := range mon.Events() {
			statusMgr.ApplyEvent(e)
			notifier.Broadcast(notification.FromEvent(e))
		}
	}()

	// Start monitor
	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitorDone := make(chan error, 1)
	statusMgr.SetPhase(status.PhaseRunning)
	go func() {
		monitorDone <- mon.Run(monCtx, statusMgr.SetSnapshot)
	}()

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting status API: addr=%s", cfg.Server.Addr)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal, critical monitor error, or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-mon.Critical():
		zlog.Error().Bool("critical", true).Msgf("Monitoring stopped: %v", err)
		statusMgr.Fail(err)
		runErr = err
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	stopMonitor()
	select {
	case <-monitorDone:
	case <-time.After(15 * time.Second):
		zlog.Warn().Msg("Monitor did not stop in time")
	}
	<-forwardDone
	if statusMgr.GetPhase() != status.PhaseFailed {
		statusMgr.SetPhase(status.PhaseStopped)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Close subscriptions first to terminate active event streams
	notifier.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	if err := store.Save(); err != nil {
		zlog.Error().Err(err).Msg("Failed to save statistics on shutdown")
	}

	zlog.Info().Msg("Tracker stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// resolveCollection looks up the saved tracks context URI.
// It includes retry logic to handle transient errors during startup.
func resolveCollection(ctx context.Context, spotifyClient *spotify.Client) (string, error) {
	maxRetries := 5
	baseDelay := 1 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<uint(i-1))
			zlog.Info().Msgf("Retrying user lookup in %v...", delay)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		uri, err := spotifyClient.CollectionContextURI(ctx)
		if err != nil {
			lastErr = err
			zlog.Warn().Msgf("Failed to look up user (attempt %d/%d): %v", i+1, maxRetries, err)
			continue
		}

		zlog.Info().Msgf("Tracking skips from %s", uri)
		return uri, nil
	}
	return "", errors.Wrapf(lastErr, "failed after %d attempts", maxRetries)
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
