package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thabobear/celebeaty/internal/player"
)

// Commander issues playback commands on behalf of the receiver. The token
// lifecycle is the implementation's concern.
type Commander interface {
	Devices(ctx context.Context) ([]player.Device, error)
	Transfer(ctx context.Context, deviceID string, autoplay bool) error
	Play(ctx context.Context, req player.PlayRequest) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int64) error
}

// ReconState is the receiver-local reconciliation state, derived from the
// latest event and used to extrapolate position between events. It is
// overwritten on every event, never merged.
type ReconState struct {
	TrackID        string
	BasePositionMs int64
	BaseTimestamp  time.Time
	IsPlaying      bool
}

// Position extrapolates the current playback position at now.
func (s ReconState) Position(now time.Time) int64 {
	if !s.IsPlaying {
		return s.BasePositionMs
	}
	return s.BasePositionMs + now.Sub(s.BaseTimestamp).Milliseconds()
}

// Reconciler is the receiver-side sync engine. It applies incoming events
// for the followed target and drives provider calls to converge local
// playback, avoiding network activity when local extrapolation suffices.
type Reconciler struct {
	cmd            Commander
	driftThreshold time.Duration

	mu           sync.Mutex
	state        *ReconState
	pausePending bool
	localTrack   string
	closed       bool
}

// NewReconciler creates a Reconciler issuing commands through cmd.
// driftThreshold bounds how far an incoming same-track position may differ
// from local extrapolation before a corrective seek is issued.
func NewReconciler(cmd Commander, driftThreshold time.Duration) *Reconciler {
	return &Reconciler{cmd: cmd, driftThreshold: driftThreshold}
}

// Close stops the reconciler from issuing further provider calls.
// In-flight calls are not cancelled, only their follow-ups are dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// State returns a copy of the current reconciliation state.
func (r *Reconciler) State() (ReconState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return ReconState{}, false
	}
	return *r.state, true
}

// Apply processes one sync event. The reconciliation state is overwritten
// unconditionally (last event wins); the provider calls issued depend on
// how the event relates to what is playing locally. Errors are user-visible
// hints; the follow relationship survives them.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	now := time.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}

	prev := r.state
	next := &ReconState{
		TrackID:        ev.TrackID,
		BasePositionMs: ev.PositionMs,
		BaseTimestamp:  ev.EmittedAt,
		IsPlaying:      ev.IsPlaying,
	}
	r.state = next

	resuming := r.pausePending
	localTrack := r.localTrack
	r.mu.Unlock()

	// Paused sender: pause locally and leave position alone. Seeking while
	// paused would be wasted calls; the resume carries the position.
	if !ev.IsPlaying {
		r.setPausePending(true)
		if err := r.cmd.Pause(ctx); err != nil {
			return fmt.Errorf("pausing playback: %w", err)
		}
		return nil
	}

	// Transport latency: the sender stamped the event with its own clock.
	target := ev.PositionMs + now.Sub(ev.EmittedAt).Milliseconds()
	if target < 0 {
		target = ev.PositionMs
	}

	switch {
	case resuming:
		// Provider pause/play endpoints do not guarantee position
		// continuity, so resume is always a position-explicit play.
		if err := r.playAt(ctx, ev, target); err != nil {
			return err
		}
		r.setPausePending(false)
		return nil

	case localTrack == "" || localTrack != ev.TrackID:
		return r.playAt(ctx, ev, target)

	case prev != nil && r.isSeek(prev, ev):
		if err := r.cmd.Seek(ctx, target); err != nil {
			return fmt.Errorf("seeking: %w", err)
		}
		return nil

	default:
		// Same track, same play state, no seek: extrapolation carries the
		// display, no provider call.
		return nil
	}
}

// isSeek reports whether the event's position departs from what local
// extrapolation from the previous state predicts.
func (r *Reconciler) isSeek(prev *ReconState, ev Event) bool {
	if !prev.IsPlaying || !ev.IsPlaying || prev.TrackID != ev.TrackID {
		return false
	}
	expected := prev.Position(ev.EmittedAt)
	drift := ev.PositionMs - expected
	if drift < 0 {
		drift = -drift
	}
	return drift > r.driftThreshold.Milliseconds()
}

// playAt ensures a usable device and starts the event's track at the
// latency-adjusted position.
func (r *Reconciler) playAt(ctx context.Context, ev Event, positionMs int64) error {
	device, err := r.ensureDevice(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	req := player.PlayRequest{
		TrackURI:   player.TrackURI(ev.TrackID),
		PositionMs: positionMs,
	}
	if !device.Active {
		req.DeviceID = device.ID
	}
	if err := r.cmd.Play(ctx, req); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}

	r.mu.Lock()
	r.localTrack = ev.TrackID
	r.mu.Unlock()
	return nil
}

// ensureDevice queries devices and selects one per the device-selection
// rule: active first, else first non-restricted, else first. An inactive
// selection is activated with a transfer; an active one is used as-is.
func (r *Reconciler) ensureDevice(ctx context.Context) (player.Device, error) {
	devices, err := r.cmd.Devices(ctx)
	if err != nil {
		return player.Device{}, fmt.Errorf("listing devices: %w", err)
	}

	device, err := player.SelectDevice(devices)
	if err != nil {
		return player.Device{}, err
	}

	if !device.Active {
		if err := r.cmd.Transfer(ctx, device.ID, false); err != nil {
			return player.Device{}, fmt.Errorf("activating device %s: %w", device.ID, err)
		}
	}
	return device, nil
}

func (r *Reconciler) setPausePending(v bool) {
	r.mu.Lock()
	r.pausePending = v
	r.mu.Unlock()
}
