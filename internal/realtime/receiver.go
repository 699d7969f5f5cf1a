package realtime

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/player"
	"github.com/Thabobear/celebeaty/internal/sync"
)

// receiver runs a follower's reconciler on a single worker goroutine with a
// latest-event mailbox. Events are applied strictly one at a time and a
// newer event replaces an unapplied older one, so reconciliation is always
// last-write-wins even when applies are slower than emissions.
type receiver struct {
	userID string
	rec    *sync.Reconciler
	notify func(userID string, msg interface{})

	mu      stdsync.Mutex
	pending *sync.Event
	wake    chan struct{}
	quit    chan struct{}
	once    stdsync.Once
}

func newReceiver(ctx context.Context, userID string, rec *sync.Reconciler, notify func(string, interface{})) *receiver {
	r := &receiver{
		userID: userID,
		rec:    rec,
		notify: notify,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

// offer replaces any unapplied pending event with ev.
func (r *receiver) offer(ev sync.Event) {
	r.mu.Lock()
	r.pending = &ev
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// stop closes the reconciler and ends the worker.
func (r *receiver) stop() {
	r.once.Do(func() {
		r.rec.Close()
		close(r.quit)
	})
}

func (r *receiver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-r.wake:
		}

		r.mu.Lock()
		ev := r.pending
		r.pending = nil
		r.mu.Unlock()
		if ev == nil {
			continue
		}

		if err := r.rec.Apply(ctx, *ev); err != nil {
			logging.Warn().Err(err).Str("user", r.userID).Msg("reconciliation failed")
			r.notify(r.userID, ErrorMessage{
				Type:    TypeError,
				Message: reconcileHint(err),
				TS:      time.Now().UnixMilli(),
			})
		}
	}
}

// reconcileHint turns a reconciliation failure into a user-visible hint.
func reconcileHint(err error) string {
	var rateLimited *player.RateLimitedError
	switch {
	case errors.Is(err, player.ErrNoPlaybackDevice):
		return "No playback device available. Open Spotify on a device and try again."
	case errors.As(err, &rateLimited):
		return "Spotify is rate limiting playback control. Sync resumes shortly."
	default:
		return "Could not mirror playback. Sync continues with the next update."
	}
}
