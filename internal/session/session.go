// Package session manages authenticated user sessions and their credential
// pairs, backed by memory or PostgreSQL.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const cookieName = "celebeaty_session"

// Session represents an authenticated user session. The embedded token is
// the session's credential pair; it is mutated only through UpdateToken.
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	Token       *oauth2.Token
	CreatedAt   time.Time
}

// Manager defines session storage and cookie plumbing.
type Manager interface {
	Create(ctx context.Context, token *oauth2.Token, userID, displayName string) (*Session, error)
	Get(ctx context.Context, id string) *Session
	Delete(ctx context.Context, id string)
	UpdateToken(ctx context.Context, id string, token *oauth2.Token)
	FromRequest(r *http.Request) *Session
	SetCookie(w http.ResponseWriter, session *Session)
	ClearCookie(w http.ResponseWriter)
}

// newSessionID creates a cryptographically random session ID.
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func setCookie(w http.ResponseWriter, session *Session, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func fromRequest(r *http.Request, m Manager) *Session {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil
	}
	return m.Get(r.Context(), cookie.Value)
}
