// Package realtime is the WebSocket transport: connection registry,
// origin validation, message routing and the coordinator that ties the
// presence directory, follow graph and sync engines together.
//
// Delivery is at-most-once and best-effort. There is no acknowledgement,
// persistence or redelivery; a missed event is corrected by the sender's
// next poll-driven emission or by an explicit snapshot request.
package realtime

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/Thabobear/celebeaty/internal/sync"
)

// Wire message types.
const (
	TypeHello       = "hello"
	TypePresence    = "presence"
	TypeFollow      = "follow"
	TypeUnfollow    = "unfollow"
	TypeReqSnapshot = "req_snapshot"
	TypeTrack       = "track"
	TypePause       = "pause"
	TypeError       = "error"
)

// Presence actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionPing  = "ping"
)

// UserRef identifies a user inside a message.
type UserRef struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// envelope is the minimal decode used to pick a route.
type envelope struct {
	Type string `json:"type"`
}

// HelloMessage announces the connection's identity, server to client.
type HelloMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// PresenceMessage starts, stops or refreshes a sender's live entry.
// Timestamps are sender-clock milliseconds since epoch.
type PresenceMessage struct {
	Type   string  `json:"type"`
	Action string  `json:"action"`
	User   UserRef `json:"user"`
	TS     int64   `json:"ts"`
}

// TargetMessage covers follow, unfollow and snapshot requests, which all
// name a target sender.
type TargetMessage struct {
	Type         string  `json:"type"`
	TargetUserID string  `json:"targetUserId"`
	User         UserRef `json:"user"`
	TS           int64   `json:"ts"`
}

// TrackMessage is a sync emission on the wire: type "track" while playing,
// "pause" with isPlaying false. Each message is self-contained.
type TrackMessage struct {
	Type       string   `json:"type"`
	User       UserRef  `json:"user"`
	TrackID    string   `json:"trackId"`
	PositionMs int64    `json:"positionMs"`
	DurationMs int64    `json:"durationMs,omitempty"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	ArtworkURL string   `json:"artworkUrl,omitempty"`
	IsPlaying  bool     `json:"isPlaying"`
	TS         int64    `json:"ts"`
}

// ErrorMessage carries a user-visible hint, e.g. when the receiver has no
// playback device. Errors never terminate the session.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// FromEvent converts an engine event to its wire form.
func FromEvent(ev sync.Event, name string) TrackMessage {
	msgType := TypeTrack
	if ev.Kind == sync.KindPause {
		msgType = TypePause
	}
	return TrackMessage{
		Type:       msgType,
		User:       UserRef{UserID: ev.UserID, Name: name},
		TrackID:    ev.TrackID,
		PositionMs: ev.PositionMs,
		DurationMs: ev.DurationMs,
		Name:       ev.Name,
		Artists:    ev.Artists,
		ArtworkURL: ev.ArtworkURL,
		IsPlaying:  ev.IsPlaying,
		TS:         ev.EmittedAt.UnixMilli(),
	}
}

// ToEvent converts a wire sync message back to an engine event. Receivers
// treat transport latency as localNow - ts, so the sender clock carries
// through unchanged.
func ToEvent(msg TrackMessage) sync.Event {
	kind := sync.KindTrack
	isPlaying := msg.IsPlaying
	if msg.Type == TypePause {
		kind = sync.KindPause
		isPlaying = false
	}
	return sync.Event{
		Kind:       kind,
		UserID:     msg.User.UserID,
		TrackID:    msg.TrackID,
		Name:       msg.Name,
		Artists:    msg.Artists,
		ArtworkURL: msg.ArtworkURL,
		DurationMs: msg.DurationMs,
		PositionMs: msg.PositionMs,
		IsPlaying:  isPlaying,
		EmittedAt:  time.UnixMilli(msg.TS),
	}
}

func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
