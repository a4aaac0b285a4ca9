// Package main provides the Spotify authentication tool.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/skiptracker/internal/infra/logger"
	"github.com/osa030/skiptracker/internal/infra/spotify"
)

var (
	app          = kingpin.New("skiptracker-auth", "Spotify authentication tool for skiptracker")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
	timeout      = app.Flag("timeout", "Give up waiting for authorization after this long").Default("5m").Duration()

	auth  *spotifyauth.Authenticator
	ch    = make(chan *oauth2.Token, 1)
	state = "skiptracker-" + uuid.NewString()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse flags
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if _, err := logger.Init(logger.Config{Output: "stderr", Level: "info"}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Build redirect URI with custom port
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", *port)
	auth = spotify.NewAuthenticator(*clientID, *clientSecret, redirectURI)

	// Start HTTP server for callback
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", completeAuth)
	server := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", *port), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("Failed to start callback server")
		}
	}()

	// Print authorization URL
	fmt.Println("Please visit the following URL to authorize skiptracker:")
	fmt.Println("")
	fmt.Println(auth.AuthURL(state))
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	// Wait for token
	var token *oauth2.Token
	select {
	case token = <-ch:
	case <-time.After(*timeout):
		zlog.Fatal().Msgf("No authorization received within %s", *timeout)
	}

	// Shutdown server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Warn().Err(err).Msg("Failed to shutdown callback server")
	}

	// Print token
	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Println("Refresh Token:")
	fmt.Println(token.RefreshToken)
	fmt.Println("")
	fmt.Println("Add this to your tracker.yaml:")
	fmt.Println("")
	fmt.Println("spotify:")
	fmt.Printf("  refresh_token: \"%s\"\n", token.RefreshToken)
	fmt.Println("")
	fmt.Println("Or set as environment variable:")
	fmt.Printf("export SPOTIFY_REFRESH_TOKEN=\"%s\"\n", token.RefreshToken)
}

func completeAuth(w http.ResponseWriter, r *http.Request) {
	if st := r.FormValue("state"); st != state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		zlog.Warn().Msgf("State mismatch: %s != %s", st, state)
		return
	}

	token, err := auth.Token(r.Context(), state, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		zlog.Error().Err(err).Msg("Failed to get token")
		return
	}

	fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
    <title>skiptracker - Authorization Complete</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #191414;
            color: white;
        }
        .container { text-align: center; padding: 40px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Complete</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`)

	select {
	case ch <- token:
	default:
	}
}
