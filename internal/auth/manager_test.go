package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Thabobear/celebeaty/internal/session"
)

// tokenServer is a fake provider token endpoint. Every hit mints a fresh
// access token; the body is static beyond the incrementing counter.
type tokenServer struct {
	srv  *httptest.Server
	hits atomic.Int64

	status       int
	rotateTo     string
	includeEmpty bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.hits.Add(1)
		if ts.status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(ts.status)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := fmt.Sprintf(`{"access_token":"fresh-%d","token_type":"Bearer","expires_in":3600`, n)
		if ts.rotateTo != "" {
			body += fmt.Sprintf(`,"refresh_token":%q`, ts.rotateTo)
		}
		body += "}"
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func newTestManager(ts *tokenServer) (*Manager, session.Manager) {
	sessions := session.NewMemoryStore(time.Hour)
	conf := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: ts.srv.URL},
	}
	return NewManager(sessions, conf), sessions
}

func createSession(t *testing.T, sessions session.Manager, tok *oauth2.Token) *session.Session {
	t.Helper()
	sess, err := sessions.Create(context.Background(), tok, "alice", "Alice")
	require.NoError(t, err)
	return sess
}

func TestAccessUnknownSession(t *testing.T) {
	m, _ := newTestManager(newTokenServer(t))

	_, err := m.Access(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAccessNoCredential(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{})

	_, err := m.Access(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, ts.hits.Load())
}

func TestAccessValidTokenPassesThrough(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		AccessToken:  "current",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	got, err := m.Access(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "current", got)
	assert.Zero(t, ts.hits.Load())
}

func TestAccessZeroExpiryPassesThrough(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{AccessToken: "current"})

	got, err := m.Access(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "current", got)
	assert.Zero(t, ts.hits.Load())
}

func TestAccessRefreshesNearExpiry(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(5 * time.Second),
	})

	got, err := m.Access(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", got)
	assert.Equal(t, int64(1), ts.hits.Load())

	// The stored credential pair was updated and the refresh token kept,
	// since the provider did not rotate it.
	stored := sessions.Get(context.Background(), sess.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "fresh-1", stored.Token.AccessToken)
	assert.Equal(t, "refresh", stored.Token.RefreshToken)

	// The fresh token has an hour left; no second exchange.
	got, err = m.Access(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", got)
	assert.Equal(t, int64(1), ts.hits.Load())
}

func TestAccessRefreshRotation(t *testing.T) {
	ts := newTokenServer(t)
	ts.rotateTo = "rotated"
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		RefreshToken: "refresh",
	})

	_, err := m.Access(context.Background(), sess.ID)
	require.NoError(t, err)

	stored := sessions.Get(context.Background(), sess.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "rotated", stored.Token.RefreshToken)
}

func TestAccessRefreshFailureCarriesStatus(t *testing.T) {
	ts := newTokenServer(t)
	ts.status = http.StatusBadRequest
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{RefreshToken: "revoked"})

	_, err := m.Access(context.Background(), sess.ID)
	require.Error(t, err)

	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
}

// unauthorizedError mimics a provider call error carrying a 401.
type unauthorizedError struct{}

func (unauthorizedError) Error() string   { return "provider error 401: token expired" }
func (unauthorizedError) HTTPStatus() int { return http.StatusUnauthorized }

func TestRetry401RefreshesOnce(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		AccessToken:  "stale-but-unexpired",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	var tokens []string
	err := m.Retry401(context.Background(), sess.ID, func(token string) error {
		tokens = append(tokens, token)
		if len(tokens) == 1 {
			return unauthorizedError{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-but-unexpired", "fresh-1"}, tokens)
	assert.Equal(t, int64(1), ts.hits.Load())
}

func TestRetry401SecondFailureSurfaces(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	calls := 0
	err := m.Retry401(context.Background(), sess.ID, func(string) error {
		calls++
		return unauthorizedError{}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), ts.hits.Load())
}

func TestRetry401NonAuthErrorPassesThrough(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		AccessToken: "current",
		Expiry:      time.Now().Add(time.Hour),
	})

	sentinel := errors.New("network down")
	calls := 0
	err := m.Retry401(context.Background(), sess.ID, func(string) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Zero(t, ts.hits.Load())
}

func TestRetry401WithoutRefreshTokenSurfaces401(t *testing.T) {
	ts := newTokenServer(t)
	m, sessions := newTestManager(ts)
	sess := createSession(t, sessions, &oauth2.Token{
		AccessToken: "current",
		Expiry:      time.Now().Add(time.Hour),
	})

	err := m.Retry401(context.Background(), sess.ID, func(string) error {
		return unauthorizedError{}
	})
	require.Error(t, err)
	assert.True(t, isUnauthorized(err))
	assert.Zero(t, ts.hits.Load())
}
