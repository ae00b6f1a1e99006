// Package auth obtains an OAuth2 HTTP client for the Google Calendar API.
// The first run opens a local redirect server and prints the consent URL;
// the resulting token is cached next to the client secrets.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	// ClientSecretsFile is the credentials.json downloaded from the Google Cloud console.
	ClientSecretsFile = "credentials.json"

	// TokenFile caches the access and refresh tokens.
	TokenFile = "token.json"

	// LocalhostAuthPort receives the OAuth redirect.
	LocalhostAuthPort = "6789"

	authTimeout = 5 * time.Minute
)

// CalendarScopes are the scopes needed to list, create and delete events.
var CalendarScopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// Authenticator loads client secrets and tokens from Dir.
type Authenticator struct {
	Dir    string
	Logger *zap.Logger
}

func New(dir string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{Dir: dir, Logger: logger}
}

func (a *Authenticator) TokenPath() string {
	return filepath.Join(a.Dir, TokenFile)
}

// Config reads the client secrets and pins localhost redirects to LocalhostAuthPort.
func (a *Authenticator) Config(scopes []string) (*oauth2.Config, error) {
	secretsPath := filepath.Join(a.Dir, ClientSecretsFile)
	b, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s (enable the Calendar API and download credentials.json): %w", secretsPath, err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	cfg.RedirectURL = a.normalizeRedirect(cfg.RedirectURL)
	return cfg, nil
}

func (a *Authenticator) normalizeRedirect(redirect string) string {
	if redirect == "urn:ietf:wg:oauth:2.0:oob" || redirect == "" {
		fixed := fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		a.Logger.Info("overriding out-of-band redirect URL", zap.String("redirect_url", fixed))
		return fixed
	}
	u, err := url.Parse(redirect)
	if err != nil {
		a.Logger.Warn("could not parse redirect URL, using it as is", zap.String("redirect_url", redirect), zap.Error(err))
		return redirect
	}
	if u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		a.Logger.Warn("redirect URL is not a localhost callback", zap.String("redirect_url", redirect))
		return redirect
	}
	if u.Port() != LocalhostAuthPort {
		u.Host = net.JoinHostPort(u.Hostname(), LocalhostAuthPort)
	}
	return u.String()
}

// Client returns an HTTP client that refreshes its token automatically. A
// missing or unreadable token triggers the browser consent flow.
func (a *Authenticator) Client(ctx context.Context, scopes []string) (*http.Client, error) {
	cfg, err := a.Config(scopes)
	if err != nil {
		return nil, err
	}

	tokenPath := a.TokenPath()
	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		a.Logger.Info("no usable token, starting web authorization flow",
			zap.String("token_file", tokenPath), zap.Error(err))
		tok, err = a.tokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}

	src := &persistingSource{
		inner: cfg.TokenSource(ctx, tok),
		last:  tok,
		path:  tokenPath,
		log:   a.Logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// HasToken reports whether a cached token exists, so callers can avoid
// starting the interactive flow.
func (a *Authenticator) HasToken() bool {
	_, err := os.Stat(a.TokenPath())
	return err == nil
}

// Reset removes the cached token so the next Client call re-runs consent.
func (a *Authenticator) Reset() error {
	err := os.Remove(a.TokenPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not delete token file %s: %w", a.TokenPath(), err)
	}
	return nil
}

// persistingSource saves the token whenever a refresh changes it.
type persistingSource struct {
	inner oauth2.TokenSource
	last  *oauth2.Token
	path  string
	log   *zap.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last.AccessToken || tok.RefreshToken != p.last.RefreshToken {
		p.log.Debug("token refreshed, saving", zap.String("token_file", p.path))
		if err := saveToken(p.path, tok); err != nil {
			p.log.Warn("could not save refreshed token", zap.Error(err))
		}
		p.last = tok
	}
	return tok, nil
}

// tokenFromWeb runs the authorization code flow through a local redirect server.
func (a *Authenticator) tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- fmt.Errorf("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprint(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()

	// AccessTypeOffline plus forced consent guarantees a refresh token.
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(os.Stderr, "Open the following URL in your browser to authorize aide:\n%s\n", authURL)
	a.Logger.Info("waiting for authorization code", zap.String("redirect_url", cfg.RedirectURL))

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(authTimeout):
		return nil, fmt.Errorf("authorization timed out, please try again")
	}
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", path, err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("unable to encode OAuth token: %w", err)
	}
	return nil
}
