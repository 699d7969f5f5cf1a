package session

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Thabobear/celebeaty/internal/db"
)

// PGStore manages user sessions in PostgreSQL so they survive restarts.
type PGStore struct {
	database *db.DB
	ttl      time.Duration
}

// NewPGStore creates a new database-backed session store.
func NewPGStore(database *db.DB, ttl time.Duration) *PGStore {
	return &PGStore{database: database, ttl: ttl}
}

// Create generates a new session and stores it in the database.
func (s *PGStore) Create(ctx context.Context, token *oauth2.Token, userID, displayName string) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &db.Session{
		ID:           id,
		UserID:       userID,
		DisplayName:  displayName,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	if err := s.database.Sessions().Create(ctx, record); err != nil {
		return nil, err
	}

	return &Session{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		Token:       token,
		CreatedAt:   now,
	}, nil
}

// Get retrieves a session by ID from the database.
func (s *PGStore) Get(ctx context.Context, id string) *Session {
	record, err := s.database.Sessions().Get(ctx, id)
	if err != nil {
		return nil
	}

	return &Session{
		ID:          record.ID,
		UserID:      record.UserID,
		DisplayName: record.DisplayName,
		Token: &oauth2.Token{
			AccessToken:  record.AccessToken,
			RefreshToken: record.RefreshToken,
			Expiry:       record.TokenExpiry,
			TokenType:    "Bearer",
		},
		CreatedAt: record.CreatedAt,
	}
}

// Delete removes a session from the database.
func (s *PGStore) Delete(ctx context.Context, id string) {
	_ = s.database.Sessions().Delete(ctx, id)
}

// UpdateToken replaces the credential pair for a session in the database.
func (s *PGStore) UpdateToken(ctx context.Context, id string, token *oauth2.Token) {
	_ = s.database.Sessions().UpdateToken(ctx, id, token.AccessToken, token.RefreshToken, token.Expiry)
}

// FromRequest extracts the session from the request cookie.
func (s *PGStore) FromRequest(r *http.Request) *Session {
	return fromRequest(r, s)
}

// SetCookie sets the session cookie on the response.
func (s *PGStore) SetCookie(w http.ResponseWriter, session *Session) {
	setCookie(w, session, s.ttl)
}

// ClearCookie removes the session cookie from the response.
func (s *PGStore) ClearCookie(w http.ResponseWriter) {
	clearCookie(w)
}

var _ Manager = (*PGStore)(nil)
