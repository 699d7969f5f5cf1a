package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/Thabobear/celebeaty/internal/auth"
	"github.com/Thabobear/celebeaty/internal/config"
	"github.com/Thabobear/celebeaty/internal/db"
	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/player"
	"github.com/Thabobear/celebeaty/internal/presence"
	"github.com/Thabobear/celebeaty/internal/realtime"
	"github.com/Thabobear/celebeaty/internal/session"
	"github.com/Thabobear/celebeaty/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "celebeaty: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Init(cfg.Logging)
	log := logging.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, cleanup, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tokens := auth.NewManager(sessions, &oauth2.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		Endpoint:     auth.Endpoint(),
		RedirectURL:  cfg.Spotify.RedirectURL,
	})
	playerClient := player.New(10 * time.Second)

	graph := presence.NewFollowGraph()
	directory := presence.NewDirectory(cfg.Sync.LivenessWindow, func(userID string) {
		graph.DropTarget(userID)
	})

	hub := realtime.NewHub(cfg.Realtime)
	realtime.NewCoordinator(ctx, cfg.Sync, hub, directory, graph, tokens, playerClient)

	server := web.NewServer(cfg, web.Deps{
		Sessions:  sessions,
		Tokens:    tokens,
		Player:    playerClient,
		Hub:       hub,
		Directory: directory,
		Graph:     graph,
	})

	log.Info().Str("addr", cfg.Server.Addr).Msg("starting celebeaty")
	return server.Run()
}

// buildSessionStore picks the Postgres-backed store when a database URL is
// configured and falls back to the in-memory store otherwise.
func buildSessionStore(ctx context.Context, cfg *config.Config) (session.Manager, func(), error) {
	if cfg.Database.URL == "" {
		logging.Logger().Info().Msg("no database configured, using in-memory sessions")
		return session.NewMemoryStore(cfg.Server.SessionTTL), func() {}, nil
	}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("ensuring schema: %w", err)
	}

	go sweepExpiredSessions(ctx, database)

	return session.NewPGStore(database, cfg.Server.SessionTTL), database.Close, nil
}

// sweepExpiredSessions periodically removes expired session rows.
func sweepExpiredSessions(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := database.Sessions().DeleteExpired(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("sweeping expired sessions")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("removed", n).Msg("expired sessions swept")
			}
		}
	}
}
