package aps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAuth struct {
	calls int
	ttl   time.Duration
	now   func() time.Time
	err   error
}

func (a *countingAuth) Authenticate(context.Context, Credentials) (Token, error) {
	if a.err != nil {
		return Token{}, a.err
	}
	a.calls++
	return Token{
		AccessToken: fmt.Sprintf("tok-%d", a.calls),
		ExpiresAt:   a.now().Add(a.ttl),
	}, nil
}

func newTestSession(auth Authenticator, cfg SessionConfig, now func() time.Time) *Session {
	s := NewSession(auth, Credentials{ClientID: "id", ClientSecret: "secret"}, cfg)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = now
	return s
}

func TestSession_ReusesToken(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	auth := &countingAuth{ttl: time.Hour, now: clock}
	s := newTestSession(auth, SessionConfig{RefreshOnExpiry: true, RefreshSkew: time.Minute}, clock)

	for range 3 {
		tok, err := s.Bearer(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, 1, auth.calls)
}

func TestSession_RefreshesNearExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	auth := &countingAuth{ttl: time.Hour, now: clock}
	s := newTestSession(auth, SessionConfig{RefreshOnExpiry: true, RefreshSkew: time.Minute}, clock)

	_, err := s.Bearer(context.Background())
	require.NoError(t, err)

	now = now.Add(59*time.Minute + 30*time.Second)
	tok, err := s.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, auth.calls)
}

func TestSession_RefreshDisabledKeepsToken(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	auth := &countingAuth{ttl: time.Hour, now: clock}
	s := newTestSession(auth, SessionConfig{RefreshOnExpiry: false}, clock)

	_, err := s.Bearer(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	tok, err := s.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, auth.calls)
	assert.True(t, s.warned)
}

func TestSession_PropagatesAuthError(t *testing.T) {
	boom := errors.New("401 unauthorized")
	auth := &countingAuth{err: boom}
	s := newTestSession(auth, SessionConfig{}, time.Now)

	_, err := s.Bearer(context.Background())
	require.ErrorIs(t, err, boom)
}
