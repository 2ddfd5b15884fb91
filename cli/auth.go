// ABOUTME: Calendar connect command
// ABOUTME: Runs the OAuth handshake on a local callback server and stores the granted credential
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/harperreed/calmirror/config"
	calsync "github.com/harperreed/calmirror/sync"
)

// AuthCommand connects the configured user's Google Calendar.
func AuthCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	noBrowser := fs.Bool("no-browser", false, "Print the consent URL without opening a browser")
	save := fs.Bool("save", false, "Save the client credentials to the config file")
	_ = fs.Parse(args)

	cfg := env.Config
	if cfg.Google.ClientID == "" {
		return fmt.Errorf("google client id is not configured. Set GOOGLE_CLIENT_ID or google.client_id in %s", env.ConfigPath)
	}
	if cfg.Google.ClientSecret == "" {
		secret, err := promptSecret("Client secret: ")
		if err != nil {
			return err
		}
		cfg.Google.ClientSecret = secret
	}

	oauthCfg := calsync.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	redirect, err := url.Parse(oauthCfg.RedirectURL)
	if err != nil || redirect.Host == "" {
		return fmt.Errorf("invalid redirect url %q", oauthCfg.RedirectURL)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen for OAuth callback on %s: %w", redirect.Host, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	open := func(authURL string) error {
		env.printf("Opening browser for Google OAuth...\n")
		env.printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
		if *noBrowser {
			return nil
		}
		return openBrowser(authURL)
	}

	token, err := authorize(ctx, oauthCfg, ln, redirect.Path, open)
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	account, err := env.Service().Connect(ctx, cfg.User, calsync.CredentialFromToken(token))
	if err != nil {
		return err
	}

	env.printf("%s Authenticated successfully\n", okStyle.Render("✓"))
	env.printf("%s Calendar connected for %s (account %s)\n", okStyle.Render("✓"), account.UserID, account.ID)
	if token.RefreshToken == "" {
		env.printf("%s No refresh token was granted; you will need to reconnect when the access token expires\n", warnStyle.Render("!"))
	}

	if *save {
		if err := config.Save(env.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		env.printf("%s Config saved to %s\n", okStyle.Render("✓"), env.ConfigPath)
	}

	env.printf("\nReady to sync! Run 'calmirror sync' to mirror your calendars.\n")
	return nil
}

type callbackResult struct {
	token *oauth2.Token
	err   error
}

// authorize serves the OAuth callback on ln until a code arrives, then
// exchanges it for a token.
func authorize(ctx context.Context, oauthCfg *oauth2.Config, ln net.Listener, callbackPath string, open func(string) error) (*oauth2.Token, error) {
	if callbackPath == "" {
		callbackPath = "/"
	}
	state := uuid.NewString()
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, callbackHandler(ctx, oauthCfg, state, results))

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case results <- callbackResult{err: err}:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	// Browser launch failures are fine; the URL was printed.
	_ = open(authURL)

	select {
	case res := <-results:
		return res.token, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func callbackHandler(ctx context.Context, oauthCfg *oauth2.Config, state string, results chan<- callbackResult) http.HandlerFunc {
	report := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if reason := q.Get("error"); reason != "" {
			http.Error(w, "Authorization was denied.", http.StatusBadRequest)
			report(callbackResult{err: fmt.Errorf("authorization denied: %s", reason)})
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch.", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			report(callbackResult{err: errors.New("no authorization code received")})
			return
		}

		token, err := oauthCfg.Exchange(ctx, code)
		if err != nil {
			http.Error(w, "Token exchange failed.", http.StatusBadGateway)
			report(callbackResult{err: fmt.Errorf("failed to exchange code: %w", err)})
			return
		}

		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
		report(callbackResult{token: token})
	}
}

func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("google client secret is not configured. Set GOOGLE_CLIENT_SECRET")
	}

	fmt.Print(prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read client secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	return exec.Command(cmd, args...).Start()
}
