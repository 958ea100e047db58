// Package msauth acquires and refreshes bearer credentials for the
// Microsoft identity platform using the OAuth 2.0 device authorization
// flow, with a JSON token cache on disk for silent reuse across runs.
package msauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
)

// DefaultScopes grant read access to the signed-in user's mail and allow
// refresh tokens to be issued.
var DefaultScopes = []string{"https://graph.microsoft.com/Mail.Read", "offline_access"}

// Config identifies the Azure app registration and where to cache tokens.
type Config struct {
	TenantID       string
	ClientID       string
	TokenCachePath string
	Scopes         []string
}

// Session produces bearer credentials on demand. It fails closed: until
// Connect succeeds there is no token source, and downstream components
// must not proceed.
type Session struct {
	oauth     oauth2.Config
	cachePath string
	logger    *slog.Logger
	source    oauth2.TokenSource
}

// NewSession builds an unconnected session from the given configuration.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	authority := "https://login.microsoftonline.com/" + cfg.TenantID
	return &Session{
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:       authority + "/oauth2/v2.0/authorize",
				TokenURL:      authority + "/oauth2/v2.0/token",
				DeviceAuthURL: authority + "/oauth2/v2.0/devicecode",
			},
		},
		cachePath: cfg.TokenCachePath,
		logger:    logger,
	}
}

// Connect establishes a credential: first silently from the token cache,
// then interactively via the device-code flow. Idempotent once connected.
func (s *Session) Connect(ctx context.Context) error {
	if s.source != nil {
		return nil
	}

	if tok := s.loadCachedToken(); tok != nil {
		s.logger.Debug("using cached token", "path", s.cachePath)
		s.source = s.persistingSource(ctx, tok)
		return nil
	}

	tok, err := s.deviceFlow(ctx)
	if err != nil {
		return eris.Wrap(err, "device authorization failed")
	}
	s.saveToken(tok)
	s.source = s.persistingSource(ctx, tok)
	return nil
}

// TokenSource returns the refreshable credential source. It is an error
// to call this before Connect has succeeded.
func (s *Session) TokenSource() (oauth2.TokenSource, error) {
	if s.source == nil {
		return nil, eris.New("session not connected")
	}
	return s.source, nil
}

// deviceFlow runs the device authorization grant, printing the
// verification URL and user code for the user to complete in a browser.
func (s *Session) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	da, err := s.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initiate device flow: %w", err)
	}

	// Prompts go to stderr so stdout stays clean for tool/protocol output.
	fmt.Fprintf(os.Stderr, "To sign in, visit %s\n", da.VerificationURI)
	fmt.Fprintf(os.Stderr, "Enter the code: %s\n\n", da.UserCode)
	fmt.Fprintln(os.Stderr, "Waiting for authentication...")

	tok, err := s.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Authentication successful.")
	return tok, nil
}

// loadCachedToken reads a previously saved token. A missing or malformed
// cache just means the interactive flow runs again.
func (s *Session) loadCachedToken() *oauth2.Token {
	if s.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		s.logger.Warn("token cache malformed, re-authenticating", "path", s.cachePath, "error", err)
		return nil
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil
	}
	return &tok
}

// saveToken writes the token cache with owner-only permissions.
func (s *Session) saveToken(tok *oauth2.Token) {
	if s.cachePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o700); err != nil {
		s.logger.Warn("create token cache dir failed", "error", err)
		return
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		s.logger.Warn("marshal token failed", "error", err)
		return
	}
	if err := os.WriteFile(s.cachePath, data, 0o600); err != nil {
		s.logger.Warn("write token cache failed", "path", s.cachePath, "error", err)
	}
}

// persistingSource wraps the standard refreshing source so refreshed
// tokens land back in the cache.
func (s *Session) persistingSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, &cacheWritingSource{
		session: s,
		base:    s.oauth.TokenSource(ctx, tok),
	})
}

type cacheWritingSource struct {
	session *Session
	base    oauth2.TokenSource
}

func (c *cacheWritingSource) Token() (*oauth2.Token, error) {
	tok, err := c.base.Token()
	if err != nil {
		return nil, err
	}
	c.session.saveToken(tok)
	return tok, nil
}
