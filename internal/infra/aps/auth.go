package aps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you-humble/apsplot/internal/domain"
)

var DefaultScopes = []string{
	"data:read", "data:write", "data:create",
	"bucket:create", "bucket:read",
	"code:all",
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return domain.ErrMissingCredentials
	}
	return nil
}

type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// Expired reports whether the token is past its expiry, or within skew of it.
// A token without a known expiry never expires.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate exchanges client credentials for a two-legged bearer token.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	if err := creds.Validate(); err != nil {
		return Token{}, err
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Auth)
	defer cancel()

	form := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"grant_type":    {"client_credentials"},
		"scope":         {strings.Join(scopes, " ")},
	}
	req, err := c.newRequest(ctx, http.MethodPost, authPath, "", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	issued := time.Now()
	var out tokenResponse
	if err := c.doJSON(req, &out); err != nil {
		return Token{}, fmt.Errorf("authenticate: %w", err)
	}
	if out.AccessToken == "" {
		return Token{}, errors.New("authenticate: empty access token")
	}

	tok := Token{AccessToken: out.AccessToken, TokenType: out.TokenType}
	if out.ExpiresIn > 0 {
		tok.ExpiresAt = issued.Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return tok, nil
}

type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Token, error)
}

type SessionConfig struct {
	RefreshOnExpiry bool
	RefreshSkew     time.Duration
}

// Session holds the token of one run or one request. It performs the first
// exchange lazily and reuses the token afterwards. Not safe for concurrent use.
type Session struct {
	auth   Authenticator
	creds  Credentials
	cfg    SessionConfig
	logger *slog.Logger
	now    func() time.Time

	token  Token
	warned bool
}

func NewSession(auth Authenticator, creds Credentials, cfg SessionConfig) *Session {
	return &Session{
		auth:   auth,
		creds:  creds,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

func (s *Session) ClientID() string { return s.creds.ClientID }

func (s *Session) Bearer(ctx context.Context) (string, error) {
	if s.token.AccessToken == "" {
		s.logger.Info("requesting new 2-legged token")
		return s.exchange(ctx)
	}

	if !s.token.Expired(s.now(), s.cfg.RefreshSkew) {
		return s.token.AccessToken, nil
	}

	if s.cfg.RefreshOnExpiry {
		s.logger.Info("token expiring, re-authenticating",
			slog.Time("expires_at", s.token.ExpiresAt),
		)
		return s.exchange(ctx)
	}

	if !s.warned {
		s.warned = true
		s.logger.Warn("token past expiry and refresh disabled, reusing it",
			slog.Time("expires_at", s.token.ExpiresAt),
		)
	}
	return s.token.AccessToken, nil
}

func (s *Session) exchange(ctx context.Context) (string, error) {
	tok, err := s.auth.Authenticate(ctx, s.creds)
	if err != nil {
		return "", err
	}
	s.token = tok
	s.warned = false
	s.logger.Info("token obtained", slog.Time("expires_at", tok.ExpiresAt))
	return tok.AccessToken, nil
}
