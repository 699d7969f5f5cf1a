package web

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/Thabobear/celebeaty/internal/auth"
	"github.com/Thabobear/celebeaty/internal/player"
)

// Handlers contains the HTTP handlers.
type Handlers struct {
	spotAuth *spotifyauth.Authenticator
	deps     Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(spotAuth *spotifyauth.Authenticator, deps Deps) *Handlers {
	return &Handlers{spotAuth: spotAuth, deps: deps}
}

// Home reports service status (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Sessions.FromRequest(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":       "celebeaty",
		"authenticated": sess != nil,
	})
}

// Healthz is the liveness probe (GET /healthz).
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateOAuthState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}

	// State cookie for CSRF validation on callback.
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.spotAuth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from Spotify (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil {
		http.Error(w, "Missing state cookie", http.StatusBadRequest)
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("Spotify auth error: %s", errMsg), http.StatusBadRequest)
		return
	}

	token, err := h.spotAuth.Token(r.Context(), state, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		return
	}

	client := spotify.New(h.spotAuth.Client(r.Context(), token))
	user, err := client.CurrentUser(r.Context())
	if err != nil {
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}

	sess, err := h.deps.Sessions.Create(r.Context(), token, string(user.ID), user.DisplayName)
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	h.deps.Sessions.SetCookie(w, sess)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Logout clears the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := h.deps.Sessions.FromRequest(r); sess != nil {
		h.deps.Sessions.Delete(r.Context(), sess.ID)
	}
	h.deps.Sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Me returns the session identity (GET /api/me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Sessions.FromRequest(r)
	if sess == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId":      sess.UserID,
		"displayName": sess.DisplayName,
	})
}

// liveEntry is one row of the live-senders listing.
type liveEntry struct {
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
	Since          int64  `json:"since"`
	LastSeen       int64  `json:"lastSeen"`
	LastKnownTrack string `json:"lastKnownTrack,omitempty"`
	Listeners      int    `json:"listeners"`
}

// Live returns the presence snapshot with listener counts (GET /api/live).
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions.FromRequest(r) == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	entries := h.deps.Directory.Snapshot(time.Now())
	out := make([]liveEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, liveEntry{
			UserID:         e.UserID,
			DisplayName:    e.DisplayName,
			Since:          e.Since.UnixMilli(),
			LastSeen:       e.LastSeen.UnixMilli(),
			LastKnownTrack: e.LastKnownTrack,
			Listeners:      h.deps.Graph.ListenerCount(e.UserID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Devices lists the caller's playback devices (GET /api/devices).
func (h *Handlers) Devices(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Sessions.FromRequest(r)
	if sess == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var devices []player.Device
	err := h.deps.Tokens.Retry401(r.Context(), sess.ID, func(token string) error {
		list, err := h.deps.Player.Devices(r.Context(), token)
		if err != nil {
			return err
		}
		devices = list
		return nil
	})
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// WS upgrades to the realtime transport (GET /ws).
func (h *Handlers) WS(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Sessions.FromRequest(r)
	if sess == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	h.deps.Hub.ServeWS(w, r, sess)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProviderError maps credential and provider failures onto HTTP
// responses, preserving the retry-after hint on rate limits.
func writeProviderError(w http.ResponseWriter, err error) {
	var rateLimited *player.RateLimitedError
	var status *player.StatusError

	switch {
	case errors.Is(err, auth.ErrNoCredential), errors.Is(err, auth.ErrNoSession):
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rateLimited.RetryAfter.Seconds()))
		http.Error(w, "Provider rate limited", http.StatusTooManyRequests)
	case errors.As(err, &status):
		http.Error(w, "Provider error", status.Status)
	default:
		http.Error(w, "Provider unavailable", http.StatusBadGateway)
	}
}

// generateOAuthState creates a random state string for OAuth.
func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
