package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// MemoryStore manages user sessions in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*Session
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Create generates a new session with the given credential pair and identity.
func (s *MemoryStore) Create(_ context.Context, token *oauth2.Token, userID, displayName string) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		Token:       token,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	cp := *session
	return &cp, nil
}

// Get retrieves a session by ID. Expiry is checked at read time. The
// returned Session is a copy: callers on other goroutines must not observe
// a concurrent UpdateToken mid-read.
func (s *MemoryStore) Get(_ context.Context, id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if time.Since(session.CreatedAt) > s.ttl {
		return nil
	}

	cp := *session
	return &cp
}

// Delete removes a session by ID.
func (s *MemoryStore) Delete(_ context.Context, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// UpdateToken replaces the credential pair for a session.
func (s *MemoryStore) UpdateToken(_ context.Context, id string, token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		session.Token = token
	}
}

// FromRequest extracts the session from the request cookie.
func (s *MemoryStore) FromRequest(r *http.Request) *Session {
	return fromRequest(r, s)
}

// SetCookie sets the session cookie on the response.
func (s *MemoryStore) SetCookie(w http.ResponseWriter, session *Session) {
	setCookie(w, session, s.ttl)
}

// ClearCookie removes the session cookie from the response.
func (s *MemoryStore) ClearCookie(w http.ResponseWriter) {
	clearCookie(w)
}

var _ Manager = (*MemoryStore)(nil)
