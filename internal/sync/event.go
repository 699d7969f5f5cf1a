// Package sync implements the playback synchronization engines: the sender
// side decides when an observed playback state is worth broadcasting, the
// receiver side reconciles incoming events against local playback.
package sync

import "time"

// Kind discriminates sync events.
type Kind string

// Event kinds.
const (
	KindTrack Kind = "track"
	KindPause Kind = "pause"
)

// Event is one self-contained sync emission. A receiver that only ever
// sees the latest event can still reconstruct correct playback, so events
// are never merged and never persisted.
type Event struct {
	Kind       Kind
	UserID     string
	TrackID    string
	Name       string
	Artists    []string
	ArtworkURL string
	DurationMs int64
	PositionMs int64
	IsPlaying  bool
	EmittedAt  time.Time
}
