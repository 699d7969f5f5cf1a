package realtime

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/Thabobear/celebeaty/internal/auth"
	"github.com/Thabobear/celebeaty/internal/config"
	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/metrics"
	"github.com/Thabobear/celebeaty/internal/player"
	"github.com/Thabobear/celebeaty/internal/presence"
	"github.com/Thabobear/celebeaty/internal/sync"
)

// Coordinator wires the transport to the presence directory, follow graph
// and sync engines. It owns one broadcaster per live sender and one
// receiver worker per active follower, all scoped to its context.
type Coordinator struct {
	ctx       context.Context
	cfg       config.SyncConfig
	hub       *Hub
	directory *presence.Directory
	graph     *presence.FollowGraph
	tokens    *auth.Manager
	player    *player.Client

	mu           stdsync.Mutex
	broadcasters map[string]*senderEngine
	receivers    map[string]*receiver
}

// senderEngine is a broadcaster with the session its playback fetch is
// bound to. A new login gets a new session, so a cached engine for an old
// session would poll with dead credentials and must be rebuilt.
type senderEngine struct {
	b         *sync.Broadcaster
	sessionID string
}

// NewCoordinator creates the Coordinator and binds it to the hub. All
// engines it spawns stop when ctx is cancelled.
func NewCoordinator(
	ctx context.Context,
	cfg config.SyncConfig,
	hub *Hub,
	directory *presence.Directory,
	graph *presence.FollowGraph,
	tokens *auth.Manager,
	playerClient *player.Client,
) *Coordinator {
	co := &Coordinator{
		ctx:          ctx,
		cfg:          cfg,
		hub:          hub,
		directory:    directory,
		graph:        graph,
		tokens:       tokens,
		player:       playerClient,
		broadcasters: make(map[string]*senderEngine),
		receivers:    make(map[string]*receiver),
	}

	hub.Bind(Handlers{
		Presence: co.handlePresence,
		Follow:   co.handleFollow,
		Unfollow: co.handleUnfollow,
		Snapshot: co.handleSnapshot,
		Sync:     co.handleSync,
	}, nil, co.onDisconnect)

	return co
}

// PublishSync implements the broadcaster's publisher: fan the event out to
// the sender's current audience and feed each follower's reconciler.
func (co *Coordinator) PublishSync(ev sync.Event) {
	name := ev.UserID
	if entry, ok := co.directory.Get(ev.UserID); ok {
		name = entry.DisplayName
	}
	co.deliver(ev, FromEvent(ev, name))
}

func (co *Coordinator) deliver(ev sync.Event, msg TrackMessage) {
	for _, followerID := range co.graph.Audience(ev.UserID) {
		co.hub.SendToUser(followerID, msg)

		co.mu.Lock()
		rcv := co.receivers[followerID]
		co.mu.Unlock()
		if rcv != nil {
			rcv.offer(ev)
		}
	}
}

// handlePresence starts, refreshes or stops the sender's live entry. The
// identity always comes from the connection, never the payload.
func (co *Coordinator) handlePresence(c *Client, msg PresenceMessage) {
	switch msg.Action {
	case ActionStart:
		co.directory.GoLive(c.UserID, c.Name)
		co.startBroadcaster(c)
	case ActionPing:
		co.directory.Ping(c.UserID)
	case ActionStop:
		co.stopSharing(c.UserID)
	}
}

// handleFollow subscribes the connection's user to the target and primes
// playback with a snapshot so the new listener does not wait out a poll
// interval.
func (co *Coordinator) handleFollow(c *Client, msg TargetMessage) {
	target := msg.TargetUserID
	if target == "" || target == c.UserID {
		return
	}

	co.graph.Follow(c.UserID, target)
	co.ensureReceiver(c)
	co.requestSnapshot(c, target)
	logging.Info().Str("follower", c.UserID).Str("target", target).Msg("follow")
}

func (co *Coordinator) handleUnfollow(c *Client, msg TargetMessage) {
	co.graph.Unfollow(c.UserID, msg.TargetUserID)
	co.stopReceiver(c.UserID)
	logging.Info().Str("follower", c.UserID).Str("target", msg.TargetUserID).Msg("unfollow")
}

// handleSnapshot asks the target sender for an out-of-cadence emission.
func (co *Coordinator) handleSnapshot(c *Client, msg TargetMessage) {
	co.requestSnapshot(c, msg.TargetUserID)
}

func (co *Coordinator) requestSnapshot(c *Client, target string) {
	co.mu.Lock()
	e := co.broadcasters[target]
	co.mu.Unlock()

	if e != nil && e.b.State() == sync.StateSharing {
		e.b.RequestSnapshot()
		return
	}

	// Thin-client sender: forward the request so its own engine answers.
	co.hub.SendToUser(target, TargetMessage{
		Type:         TypeReqSnapshot,
		TargetUserID: target,
		User:         UserRef{UserID: c.UserID, Name: c.Name},
		TS:           time.Now().UnixMilli(),
	})
}

// handleSync accepts track/pause emissions from senders that run their own
// poll loop client-side. They are fanned out exactly like server-side
// emissions.
func (co *Coordinator) handleSync(c *Client, msg TrackMessage) {
	if !co.directory.IsLive(c.UserID) {
		return
	}

	msg.User = UserRef{UserID: c.UserID, Name: c.Name}
	ev := ToEvent(msg)
	ev.UserID = c.UserID

	co.directory.Touch(c.UserID, msg.Name)
	metrics.SyncEventsEmitted.WithLabelValues(string(ev.Kind)).Inc()
	co.deliver(ev, msg)
}

// onDisconnect tears down the user's engines once their last connection is
// gone. Per-session failures never touch other users' state.
func (co *Coordinator) onDisconnect(c *Client, lastForUser bool) {
	if !lastForUser {
		return
	}
	co.stopSharing(c.UserID)
	co.stopReceiver(c.UserID)
	co.graph.DropUser(c.UserID)
}

func (co *Coordinator) startBroadcaster(c *Client) {
	var stale *sync.Broadcaster

	co.mu.Lock()
	e, ok := co.broadcasters[c.UserID]
	if ok && e.sessionID != c.SessionID {
		// The cached engine fetches with a session that no longer backs
		// this user; rebind to the live one.
		stale = e.b
		ok = false
	}
	if !ok {
		e = &senderEngine{
			b: sync.NewBroadcaster(sync.BroadcasterConfig{
				UserID:         c.UserID,
				DisplayName:    c.Name,
				PollInterval:   co.cfg.PollInterval,
				PingInterval:   co.cfg.PingInterval,
				DriftThreshold: co.cfg.DriftThreshold,
			}, co.stateFunc(c.SessionID), co, co.directory),
			sessionID: c.SessionID,
		}
		co.broadcasters[c.UserID] = e
	}
	co.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
	e.b.Start(co.ctx)
}

// stopSharing halts and releases the user's broadcaster, removes the
// presence entry and tears down the followers the cascade unfollowed.
func (co *Coordinator) stopSharing(userID string) {
	co.mu.Lock()
	e := co.broadcasters[userID]
	delete(co.broadcasters, userID)
	co.mu.Unlock()
	if e != nil {
		e.b.Stop()
	}

	audience := co.graph.Audience(userID)
	if !co.directory.GoOffline(userID) {
		return
	}
	for _, followerID := range audience {
		co.stopReceiver(followerID)
	}
}

func (co *Coordinator) ensureReceiver(c *Client) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if _, ok := co.receivers[c.UserID]; ok {
		return
	}
	rec := sync.NewReconciler(&commander{
		tokens:    co.tokens,
		player:    co.player,
		sessionID: c.SessionID,
	}, co.cfg.DriftThreshold)
	co.receivers[c.UserID] = newReceiver(co.ctx, c.UserID, rec, co.hub.SendToUser)
}

func (co *Coordinator) stopReceiver(userID string) {
	co.mu.Lock()
	rcv := co.receivers[userID]
	delete(co.receivers, userID)
	co.mu.Unlock()

	if rcv != nil {
		rcv.stop()
	}
}

// stateFunc builds the sender's playback fetch bound to its session.
func (co *Coordinator) stateFunc(sessionID string) sync.StateFunc {
	return func(ctx context.Context) (*player.Playback, error) {
		var pb *player.Playback
		err := co.tokens.Retry401(ctx, sessionID, func(token string) error {
			state, err := co.player.State(ctx, token)
			if err != nil {
				return err
			}
			pb = state
			return nil
		})
		return pb, err
	}
}
