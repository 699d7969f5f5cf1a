// Package auth owns the access/refresh credential lifecycle for every
// outbound provider call. It refreshes tokens proactively shortly before
// expiry, deduplicates concurrent refreshes per session, and performs at
// most one refresh-and-retry when a call reports a provider 401.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/metrics"
	"github.com/Thabobear/celebeaty/internal/session"
)

// expiryLeeway is how early a token is refreshed before its stated expiry.
const expiryLeeway = 30 * time.Second

// Manager keeps session credential pairs valid.
type Manager struct {
	sessions session.Manager
	conf     *oauth2.Config
	group    singleflight.Group
}

// Endpoint returns the provider's OAuth2 endpoint.
func Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  spotifyauth.AuthURL,
		TokenURL: spotifyauth.TokenURL,
	}
}

// NewManager creates a Manager performing refresh exchanges against the
// given OAuth2 config.
func NewManager(sessions session.Manager, conf *oauth2.Config) *Manager {
	return &Manager{sessions: sessions, conf: conf}
}

// Access returns a currently valid access token for the session.
//
// An access token with more than the leeway left is returned as-is; no
// eager validation happens, a stale token surfaces as a provider 401
// downstream. A missing or near-expiry access token is replaced via a
// refresh-token exchange when a refresh token is held.
func (m *Manager) Access(ctx context.Context, sessionID string) (string, error) {
	sess := m.sessions.Get(ctx, sessionID)
	if sess == nil {
		return "", ErrNoSession
	}

	tok := sess.Token
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return "", ErrNoCredential
	}

	if tok.AccessToken != "" {
		if tok.Expiry.IsZero() || time.Until(tok.Expiry) > expiryLeeway {
			return tok.AccessToken, nil
		}
		if tok.RefreshToken == "" {
			// Nothing to refresh with; let the provider decide.
			return tok.AccessToken, nil
		}
	}

	fresh, err := m.refresh(ctx, sess)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Retry401 runs call with a valid access token. If the call reports a
// provider 401 and a refresh token is held, the manager refreshes once and
// retries once; a second 401 is surfaced to the caller.
func (m *Manager) Retry401(ctx context.Context, sessionID string, call func(token string) error) error {
	token, err := m.Access(ctx, sessionID)
	if err != nil {
		return err
	}

	err = call(token)
	if err == nil || !isUnauthorized(err) {
		return err
	}

	sess := m.sessions.Get(ctx, sessionID)
	if sess == nil || sess.Token == nil || sess.Token.RefreshToken == "" {
		return err
	}

	logging.Debug().Str("session", sessionID).Msg("provider 401, refreshing and retrying once")
	fresh, refreshErr := m.refresh(ctx, sess)
	if refreshErr != nil {
		return refreshErr
	}

	return call(fresh.AccessToken)
}

// refresh performs a refresh-token exchange, single-flighted per session so
// concurrent callers share one exchange and one rotation.
func (m *Manager) refresh(ctx context.Context, sess *session.Session) (*oauth2.Token, error) {
	v, err, _ := m.group.Do(sess.ID, func() (interface{}, error) {
		src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: sess.Token.RefreshToken})
		tok, err := src.Token()
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("failure").Inc()
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) && rerr.Response != nil {
				return nil, &RefreshError{Status: rerr.Response.StatusCode}
			}
			return nil, fmt.Errorf("refreshing token: %w", err)
		}

		// The provider may rotate the refresh token; keep the old one when
		// it does not.
		if tok.RefreshToken == "" {
			tok.RefreshToken = sess.Token.RefreshToken
		}

		m.sessions.UpdateToken(ctx, sess.ID, tok)
		metrics.TokenRefreshes.WithLabelValues("success").Inc()
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}
