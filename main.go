package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"
	"github.com/gapeva/uplas-client/tui"
	"github.com/gapeva/uplas-client/uplas"
)

var (
	apiURL            string
	sessionFile       string
	email             string
	password          string
	backendLogout     bool
	flagAPIURL        *string
	flagSessionFile   *string
	flagEmail         *string
	flagLogout        *bool
	configInitialized bool
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagAPIURL = flag.String(
		"api-url",
		"",
		"Uplas API base URL (default: http://localhost:8000/api or UPLAS_API_URL env)",
	)
	flagSessionFile = flag.String(
		"session-file",
		"",
		"Session storage file (default: .uplas-session.json or SESSION_FILE env)",
	)
	flagEmail = flag.String("email", "", "Account email for login (or UPLAS_EMAIL env)")
	flagLogout = flag.Bool("logout", false, "End the current session and exit")
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	// Priority: flag > env > default
	apiURL = getConfig(*flagAPIURL, "UPLAS_API_URL", "http://localhost:8000/api")
	sessionFile = getConfig(*flagSessionFile, "SESSION_FILE", ".uplas-session.json")
	email = getConfig(*flagEmail, "UPLAS_EMAIL", "")
	password = getEnv("UPLAS_PASSWORD", "")
	backendLogout = getEnv("BACKEND_LOGOUT", "") == "true"

	if err := validateBaseURL(apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid UPLAS_API_URL: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(apiURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateBaseURL validates that the API base URL is properly formatted
func validateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("API base URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	initConfig()

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(d)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(d); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := uplas.NewStore(sessionFile)
	client, err := uplas.NewClient(apiURL, store,
		uplas.WithBackendLogout(backendLogout),
		uplas.WithSessionHook(func(ev uplas.SessionEvent) {
			// Only terminal auth failures end the flow visibly; a plain
			// logout is narrated by the logout path itself.
			if !ev.LoggedIn && ev.Err != nil {
				d.SessionEnded(ev.Reason)
			}
		}),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}

	// A message left behind by the last session termination.
	if notice := client.ConsumeAuthNotice(); notice != "" {
		d.Notice(notice)
	}

	if *flagLogout {
		if err := client.Logout(ctx); err != nil {
			d.Fatal(err)
			return err
		}
		d.LoggedOut()
		return nil
	}

	if client.LoggedIn() {
		d.SessionFound()
	} else {
		d.SessionMissing()
		if email == "" || password == "" {
			err := errors.New("no session and no credentials")
			fmt.Fprintln(os.Stderr, "Error: no stored session and no credentials. Please provide:")
			fmt.Fprintln(os.Stderr, "  1. Command line flag: -email=<address> (password via UPLAS_PASSWORD env)")
			fmt.Fprintln(os.Stderr, "  2. Environment variables: UPLAS_EMAIL / UPLAS_PASSWORD")
			fmt.Fprintln(os.Stderr, "  3. .env file with the same keys")
			return err
		}

		d.LoggingIn(email)
		if _, err := client.Login(ctx, email, password); err != nil {
			d.Fatal(err)
			return err
		}
		d.LoginOK()
	}

	// Narrate the proactive renewal: the client refreshes transparently, so
	// compare tokens around the next call to see whether it happened.
	wasStale := client.NeedsRefresh()
	if wasStale {
		d.Refreshing()
	}
	accessBefore := currentAccessToken(store)

	profile := client.CachedProfile()
	if profile == nil {
		d.LoadingProfile()
	}
	profile, err = client.FetchProfile(ctx)
	if err != nil {
		d.Fatal(err)
		return err
	}
	if wasStale && currentAccessToken(store) != accessBefore {
		d.RefreshOK()
	}
	d.Profile(profile.FullName, profile.Email, profile.IsInstructor)

	// An ordinary feature call through the authenticated client: a 401 here
	// is absorbed by the refresh-and-retry path.
	d.FetchingCourses()
	var courses struct {
		Count   int               `json:"count"`
		Results []json.RawMessage `json:"results"`
	}
	err = client.DoJSON(ctx, uplas.Request{
		Method: http.MethodGet,
		Path:   "/courses/mine/",
	}, &courses)
	if err != nil {
		d.APICallFailed(err)
	} else {
		count := courses.Count
		if count == 0 {
			count = len(courses.Results)
		}
		d.Courses(count)
	}

	preview := currentAccessToken(store)
	if len(preview) > 50 {
		preview = preview[:50]
	}
	d.Done(profile.Email, preview)
	return nil
}

func currentAccessToken(store *uplas.Store) string {
	access, _ := store.Tokens()
	return access
}
