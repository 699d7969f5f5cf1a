package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Thabobear/celebeaty/internal/auth"
	"github.com/Thabobear/celebeaty/internal/config"
	"github.com/Thabobear/celebeaty/internal/player"
	"github.com/Thabobear/celebeaty/internal/presence"
	"github.com/Thabobear/celebeaty/internal/session"
	"github.com/Thabobear/celebeaty/internal/sync"
)

func testCoordinator(t *testing.T) (*Coordinator, *Hub, *presence.Directory, *presence.FollowGraph) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := testHub()
	graph := presence.NewFollowGraph()
	directory := presence.NewDirectory(15*time.Second, func(userID string) {
		graph.DropTarget(userID)
	})
	tokens := auth.NewManager(session.NewMemoryStore(time.Hour), &oauth2.Config{})

	co := NewCoordinator(ctx, config.SyncConfig{
		PollInterval:   time.Hour, // only explicit triggers fire in tests
		PingInterval:   time.Hour,
		DriftThreshold: 3 * time.Second,
	}, hub, directory, graph, tokens, player.New(time.Second))

	return co, hub, directory, graph
}

func connect(h *Hub, userID, name, sessionID string) *Client {
	c := newClient(h, nil, userID, name, sessionID, 16)
	h.register(c)
	return c
}

// awaitMessage drains the client's outbound queue until a message of the
// wanted type arrives.
func awaitMessage(t *testing.T, c *Client, msgType string) map[string]interface{} {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.send:
			var msg map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &msg))
			if msg["type"] == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %q message arrived", msgType)
		}
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected message: %s", raw)
	default:
	}
}

func TestFollowSubscribesAndRequestsSnapshot(t *testing.T) {
	co, hub, directory, graph := testCoordinator(t)

	alice := connect(hub, "alice", "Alice", "sa")
	bob := connect(hub, "bob", "Bob", "sb")
	directory.GoLive("alice", "Alice")

	co.handleFollow(bob, TargetMessage{Type: TypeFollow, TargetUserID: "alice"})

	target, ok := graph.TargetOf("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", target)

	co.mu.Lock()
	_, hasReceiver := co.receivers["bob"]
	co.mu.Unlock()
	assert.True(t, hasReceiver)

	// No server-side broadcaster for alice: the snapshot request is
	// forwarded to her own connections.
	msg := awaitMessage(t, alice, TypeReqSnapshot)
	user := msg["user"].(map[string]interface{})
	assert.Equal(t, "bob", user["userId"])
}

func TestFollowIgnoresSelfAndEmptyTarget(t *testing.T) {
	co, hub, _, graph := testCoordinator(t)
	alice := connect(hub, "alice", "Alice", "sa")

	co.handleFollow(alice, TargetMessage{Type: TypeFollow, TargetUserID: "alice"})
	co.handleFollow(alice, TargetMessage{Type: TypeFollow})

	_, ok := graph.TargetOf("alice")
	assert.False(t, ok)
	co.mu.Lock()
	defer co.mu.Unlock()
	assert.Empty(t, co.receivers)
}

func TestSnapshotRequestEmitsOutOfCadence(t *testing.T) {
	co, hub, directory, graph := testCoordinator(t)

	bob := connect(hub, "bob", "Bob", "sb")
	directory.GoLive("alice", "Alice")
	graph.Follow("bob", "alice")

	// A sharing engine with playback advancing in real time.
	start := time.Now()
	fetch := func(ctx context.Context) (*player.Playback, error) {
		return &player.Playback{
			TrackID:    "t1",
			Name:       "Song",
			Artists:    []string{"Artist"},
			DurationMs: 200_000,
			PositionMs: 1000 + time.Since(start).Milliseconds(),
			IsPlaying:  true,
		}, nil
	}
	b := sync.NewBroadcaster(sync.BroadcasterConfig{
		UserID:         "alice",
		DisplayName:    "Alice",
		PollInterval:   time.Hour,
		PingInterval:   time.Hour,
		DriftThreshold: 3 * time.Second,
	}, fetch, co, directory)

	co.mu.Lock()
	co.broadcasters["alice"] = &senderEngine{b: b, sessionID: "sa"}
	co.mu.Unlock()
	b.Start(context.Background())
	t.Cleanup(b.Stop)

	first := awaitMessage(t, bob, TypeTrack)
	assert.Equal(t, "t1", first["trackId"])

	time.Sleep(50 * time.Millisecond)
	co.handleSnapshot(bob, TargetMessage{Type: TypeReqSnapshot, TargetUserID: "alice"})

	second := awaitMessage(t, bob, TypeTrack)
	assert.Greater(t, second["positionMs"].(float64), first["positionMs"].(float64))
}

func TestHandleSyncFansOutToAudience(t *testing.T) {
	co, hub, directory, graph := testCoordinator(t)

	alice := connect(hub, "alice", "Alice", "sa")
	bob := connect(hub, "bob", "Bob", "sb")
	carol := connect(hub, "carol", "Carol", "sc")

	directory.GoLive("alice", "Alice")
	graph.Follow("bob", "alice")

	co.handleSync(alice, TrackMessage{
		Type:       TypeTrack,
		User:       UserRef{UserID: "mallory", Name: "Mallory"},
		TrackID:    "t1",
		Name:       "Song",
		PositionMs: 1500,
		IsPlaying:  true,
		TS:         time.Now().UnixMilli(),
	})

	msg := awaitMessage(t, bob, TypeTrack)
	assert.Equal(t, "t1", msg["trackId"])

	// The sender identity comes from the connection, never the payload.
	user := msg["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["userId"])

	assertNoMessage(t, carol)

	entry, ok := directory.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "Song", entry.LastKnownTrack)
}

func TestHandleSyncIgnoresNonLiveSender(t *testing.T) {
	co, hub, _, graph := testCoordinator(t)

	alice := connect(hub, "alice", "Alice", "sa")
	bob := connect(hub, "bob", "Bob", "sb")
	graph.Follow("bob", "alice")

	co.handleSync(alice, TrackMessage{
		Type:      TypeTrack,
		TrackID:   "t1",
		IsPlaying: true,
		TS:        time.Now().UnixMilli(),
	})

	assertNoMessage(t, bob)
}

func TestStopSharingTearsDownAudience(t *testing.T) {
	co, hub, directory, graph := testCoordinator(t)

	bob := connect(hub, "bob", "Bob", "sb")
	directory.GoLive("alice", "Alice")
	co.handleFollow(bob, TargetMessage{Type: TypeFollow, TargetUserID: "alice"})

	co.stopSharing("alice")

	assert.False(t, directory.IsLive("alice"))
	assert.Zero(t, graph.ListenerCount("alice"))
	co.mu.Lock()
	defer co.mu.Unlock()
	assert.Empty(t, co.receivers)
	assert.Empty(t, co.broadcasters)
}

func TestPresenceStartRebindsNewSession(t *testing.T) {
	co, hub, directory, _ := testCoordinator(t)

	c1 := connect(hub, "alice", "Alice", "s1")
	co.handlePresence(c1, PresenceMessage{Type: TypePresence, Action: ActionStart})
	t.Cleanup(func() { co.stopSharing("alice") })

	assert.True(t, directory.IsLive("alice"))
	co.mu.Lock()
	require.Contains(t, co.broadcasters, "alice")
	assert.Equal(t, "s1", co.broadcasters["alice"].sessionID)
	co.mu.Unlock()

	// Stop releases the engine entirely.
	co.handlePresence(c1, PresenceMessage{Type: TypePresence, Action: ActionStop})
	co.mu.Lock()
	assert.Empty(t, co.broadcasters)
	co.mu.Unlock()

	// A later login carries a new session; sharing again binds to it.
	c2 := connect(hub, "alice", "Alice", "s2")
	co.handlePresence(c2, PresenceMessage{Type: TypePresence, Action: ActionStart})
	co.mu.Lock()
	require.Contains(t, co.broadcasters, "alice")
	assert.Equal(t, "s2", co.broadcasters["alice"].sessionID)
	old := co.broadcasters["alice"].b
	co.mu.Unlock()

	// Starting under yet another session replaces the engine even without
	// an intervening stop.
	c3 := connect(hub, "alice", "Alice", "s3")
	co.handlePresence(c3, PresenceMessage{Type: TypePresence, Action: ActionStart})
	co.mu.Lock()
	assert.Equal(t, "s3", co.broadcasters["alice"].sessionID)
	co.mu.Unlock()
	assert.Equal(t, sync.StateIdle, old.State())
}

func TestDisconnectLastConnectionCleansUp(t *testing.T) {
	co, hub, directory, graph := testCoordinator(t)

	directory.GoLive("alice", "Alice")
	bob := connect(hub, "bob", "Bob", "sb")
	co.handleFollow(bob, TargetMessage{Type: TypeFollow, TargetUserID: "alice"})

	hub.unregister(bob)

	_, ok := graph.TargetOf("bob")
	assert.False(t, ok)
	co.mu.Lock()
	defer co.mu.Unlock()
	assert.Empty(t, co.receivers)
}
