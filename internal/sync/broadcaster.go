package sync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/metrics"
	"github.com/Thabobear/celebeaty/internal/player"
)

// State is the broadcaster's lifecycle state. Transitions happen only via
// explicit Start and Stop, never inferred from playback.
type State int

// Broadcaster states.
const (
	StateIdle State = iota
	StateSharing
)

func (s State) String() string {
	if s == StateSharing {
		return "sharing"
	}
	return "idle"
}

// StateFunc fetches the sender's current playback with a valid token. The
// token lifecycle is the caller's concern.
type StateFunc func(ctx context.Context) (*player.Playback, error)

// Publisher delivers an emitted event to the sender's audience.
type Publisher interface {
	PublishSync(ev Event)
}

// Presence receives liveness updates piggybacked on the poll loop.
type Presence interface {
	Ping(userID string)
	Touch(userID, track string)
}

// BroadcasterConfig holds the per-sender tunables.
type BroadcasterConfig struct {
	UserID         string
	DisplayName    string
	PollInterval   time.Duration
	PingInterval   time.Duration
	DriftThreshold time.Duration
}

// emission is the last emitted observation, the only state retained
// between polls.
type emission struct {
	playback player.Playback
	sentAt   time.Time
}

// Broadcaster is the sender-side sync engine: a per-sender state machine
// that polls provider playback while sharing and emits a minimal event on
// meaningful transitions.
type Broadcaster struct {
	cfg       BroadcasterConfig
	fetch     StateFunc
	publisher Publisher
	presence  Presence

	mu          sync.Mutex
	state       State
	lastEmitted *emission
	lastAlive   time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	snapshotReq chan struct{}
}

// NewBroadcaster creates an idle Broadcaster.
func NewBroadcaster(cfg BroadcasterConfig, fetch StateFunc, publisher Publisher, presence Presence) *Broadcaster {
	return &Broadcaster{
		cfg:         cfg,
		fetch:       fetch,
		publisher:   publisher,
		presence:    presence,
		snapshotReq: make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (b *Broadcaster) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start moves the broadcaster from Idle to Sharing and begins the poll
// loop. Starting a sharing broadcaster is a no-op.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.state == StateSharing {
		b.mu.Unlock()
		return
	}
	b.state = StateSharing
	b.lastEmitted = nil
	b.lastAlive = time.Now()
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.mu.Unlock()

	metrics.LiveSenders.Inc()
	logging.Info().Str("user", b.cfg.UserID).Msg("sender sharing started")
	go b.run(ctx)
}

// Stop moves the broadcaster back to Idle and halts further emission.
// In-flight provider calls are not cancelled; their results are discarded
// when they complete against an idle engine.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.state != StateSharing {
		b.mu.Unlock()
		return
	}
	b.state = StateIdle
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	cancel()
	<-done
	metrics.LiveSenders.Dec()
	logging.Info().Str("user", b.cfg.UserID).Msg("sender sharing stopped")
}

// RequestSnapshot asks the poll loop to emit the current state immediately,
// bypassing the poll cadence. Used when a new receiver joins so it does not
// wait out a full poll interval.
func (b *Broadcaster) RequestSnapshot() {
	select {
	case b.snapshotReq <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	// First observation without waiting for the first tick.
	b.pollOnce(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.snapshotReq:
			b.pollOnce(ctx, true)
		case <-ticker.C:
			b.pollOnce(ctx, false)
		}
	}
}

// pollOnce fetches playback and runs one observation through the state
// machine. With force set, the current state is emitted unconditionally.
func (b *Broadcaster) pollOnce(ctx context.Context, force bool) {
	pb, err := b.fetch(ctx)

	// The engine may have stopped while the call was in flight; results
	// are checked against state at the point of applying side effects.
	if b.State() != StateSharing {
		return
	}

	if err != nil {
		if errors.Is(err, player.ErrNoActiveItem) {
			b.heartbeat()
			return
		}
		if ctx.Err() != nil {
			return
		}
		// Transient: report and keep polling on the next natural cycle.
		logging.Warn().Err(err).Str("user", b.cfg.UserID).Msg("playback poll failed")
		return
	}

	now := time.Now()
	ev, ok := b.Observe(now, pb, force)
	if !ok {
		return
	}

	b.publisher.PublishSync(ev)
	b.presence.Touch(b.cfg.UserID, trackLabel(pb))
	metrics.SyncEventsEmitted.WithLabelValues(string(ev.Kind)).Inc()
	logging.Debug().
		Str("user", b.cfg.UserID).
		Str("track", pb.TrackID).
		Int64("position_ms", pb.PositionMs).
		Bool("playing", pb.IsPlaying).
		Msg("sync event emitted")
}

// Observe feeds one playback observation into the state machine and
// returns the event to emit, if any. An event is due when this is the
// first observation since entering Sharing, the track changed, the play
// state flipped, or the observed position drifted beyond the threshold
// from the extrapolated one (a seek). force bypasses the checks.
func (b *Broadcaster) Observe(now time.Time, pb *player.Playback, force bool) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateSharing {
		return Event{}, false
	}

	if !force && !b.eventWorthy(now, pb) {
		return Event{}, false
	}

	b.lastEmitted = &emission{playback: *pb, sentAt: now}
	b.lastAlive = now

	kind := KindTrack
	if !pb.IsPlaying {
		kind = KindPause
	}
	return Event{
		Kind:       kind,
		UserID:     b.cfg.UserID,
		TrackID:    pb.TrackID,
		Name:       pb.Name,
		Artists:    pb.Artists,
		ArtworkURL: pb.ArtworkURL,
		DurationMs: pb.DurationMs,
		PositionMs: pb.PositionMs,
		IsPlaying:  pb.IsPlaying,
		EmittedAt:  now,
	}, true
}

// eventWorthy applies the emission rules. Caller holds the lock.
func (b *Broadcaster) eventWorthy(now time.Time, pb *player.Playback) bool {
	last := b.lastEmitted
	if last == nil {
		return true
	}
	if pb.TrackID != last.playback.TrackID {
		return true
	}
	if pb.IsPlaying != last.playback.IsPlaying {
		return true
	}

	expected := last.playback.PositionMs
	if last.playback.IsPlaying {
		expected += now.Sub(last.sentAt).Milliseconds()
	}
	drift := pb.PositionMs - expected
	if drift < 0 {
		drift = -drift
	}
	return drift > b.cfg.DriftThreshold.Milliseconds()
}

// heartbeat keeps the presence entry alive while nothing is playing,
// bounded by the ping interval.
func (b *Broadcaster) heartbeat() {
	b.mu.Lock()
	due := time.Since(b.lastAlive) >= b.cfg.PingInterval
	if due {
		b.lastAlive = time.Now()
	}
	b.mu.Unlock()

	if due {
		b.presence.Ping(b.cfg.UserID)
	}
}

func trackLabel(pb *player.Playback) string {
	if len(pb.Artists) == 0 {
		return pb.Name
	}
	return strings.Join(pb.Artists, ", ") + " - " + pb.Name
}
