// Package web provides the HTTP server: the OAuth login flow, the JSON
// API and the WebSocket upgrade endpoint.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/Thabobear/celebeaty/internal/auth"
	"github.com/Thabobear/celebeaty/internal/config"
	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/metrics"
	"github.com/Thabobear/celebeaty/internal/player"
	"github.com/Thabobear/celebeaty/internal/presence"
	"github.com/Thabobear/celebeaty/internal/realtime"
	"github.com/Thabobear/celebeaty/internal/session"
)

// Deps are the assembled collaborators the server routes requests to.
type Deps struct {
	Sessions  session.Manager
	Tokens    *auth.Manager
	Player    *player.Client
	Hub       *realtime.Hub
	Directory *presence.Directory
	Graph     *presence.FollowGraph
}

// Server is the HTTP server for the application.
type Server struct {
	cfg      *config.Config
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	hub      *realtime.Hub
}

// NewServer creates a server with routes and middleware configured.
func NewServer(cfg *config.Config, deps Deps) *Server {
	spotAuth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.Spotify.ClientID),
		spotifyauth.WithClientSecret(cfg.Spotify.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.Spotify.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPrivate,
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
		),
	)

	handlers := NewHandlers(spotAuth, deps)
	router := chi.NewRouter()

	s := &Server{
		cfg:      cfg,
		router:   router,
		handlers: handlers,
		hub:      deps.Hub,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Realtime.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowCredentials: true,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handlers.Home)
	s.router.Get("/healthz", s.handlers.Healthz)
	s.router.Method("GET", "/metrics", metrics.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Get("/auth/login", s.handlers.Login)
		r.Get("/callback", s.handlers.Callback)
		r.Post("/auth/logout", s.handlers.Logout)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/api/me", s.handlers.Me)
		r.Get("/api/live", s.handlers.Live)
		r.Get("/api/devices", s.handlers.Devices)
	})

	s.router.Get("/ws", s.handlers.WS)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.server.Addr).Msg("server starting")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and the realtime hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		logging.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logging.Info().Msg("server stopped")
	return nil
}

// requestLogger emits one structured log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
