// Package config loads celebeaty configuration with layered sources:
// struct defaults, an optional YAML file, then CELEBEATY_* environment
// variables (highest priority).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thabobear/celebeaty/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Sync     SyncConfig     `koanf:"sync"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Database DatabaseConfig `koanf:"database"`
	Logging  logging.Config `koanf:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	PublicURL    string        `koanf:"public_url"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	SessionTTL   time.Duration `koanf:"session_ttl"`
}

// SpotifyConfig holds the provider application credentials.
type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
}

// SyncConfig holds the playback synchronization tunables. These were
// empirical constants in earlier iterations; they are configuration now
// so operators can tune them without a rebuild.
type SyncConfig struct {
	// PollInterval is how often a sharing sender polls provider playback.
	PollInterval time.Duration `koanf:"poll_interval"`

	// PingInterval bounds presence-heartbeat silence while a sender has
	// nothing playing.
	PingInterval time.Duration `koanf:"ping_interval"`

	// DriftThreshold is the gap between observed and extrapolated position
	// beyond which an observation is classified as a seek.
	DriftThreshold time.Duration `koanf:"drift_threshold"`

	// LivenessWindow is the maximum heartbeat silence before a presence
	// entry is excluded from snapshots.
	LivenessWindow time.Duration `koanf:"liveness_window"`
}

// RealtimeConfig configures the WebSocket transport.
type RealtimeConfig struct {
	// HeartbeatInterval is the ping/pong cadence; a connection that misses
	// one full interval is reclaimed.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// AllowedOrigins lists origins accepted for the WebSocket handshake in
	// addition to same-origin and loopback hosts.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// SendBuffer is the per-connection outbound message buffer.
	SendBuffer int `koanf:"send_buffer"`
}

// DatabaseConfig configures the optional Postgres session store. When URL
// is empty, sessions live in memory only.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			PublicURL:    "http://127.0.0.1:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			SessionTTL:   24 * time.Hour,
		},
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
		},
		Sync: SyncConfig{
			PollInterval:   2 * time.Second,
			PingInterval:   12 * time.Second,
			DriftThreshold: 3 * time.Second,
			LivenessWindow: 15 * time.Second,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 25 * time.Second,
			AllowedOrigins:    nil,
			SendBuffer:        64,
		},
		Database: DatabaseConfig{URL: ""},
		Logging:  logging.Config{Level: "info", Format: "json"},
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return errors.New("spotify.client_id and spotify.client_secret are required")
	}
	if c.Spotify.RedirectURL == "" {
		return errors.New("spotify.redirect_url is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	for name, d := range map[string]time.Duration{
		"sync.poll_interval":          c.Sync.PollInterval,
		"sync.ping_interval":          c.Sync.PingInterval,
		"sync.liveness_window":        c.Sync.LivenessWindow,
		"realtime.heartbeat_interval": c.Realtime.HeartbeatInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Sync.DriftThreshold < time.Second {
		return fmt.Errorf("sync.drift_threshold must be at least 1s, got %s", c.Sync.DriftThreshold)
	}
	if c.Realtime.SendBuffer <= 0 {
		return errors.New("realtime.send_buffer must be positive")
	}
	return nil
}
