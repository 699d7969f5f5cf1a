package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thabobear/celebeaty/internal/sync"
)

func TestDispatchRoutesByType(t *testing.T) {
	c := &Client{ID: "conn1", UserID: "alice", Name: "Alice"}

	var gotPresence *PresenceMessage
	var gotFollow, gotUnfollow, gotSnapshot *TargetMessage
	var gotSync *TrackMessage

	h := Handlers{
		Presence: func(_ *Client, msg PresenceMessage) { gotPresence = &msg },
		Follow:   func(_ *Client, msg TargetMessage) { gotFollow = &msg },
		Unfollow: func(_ *Client, msg TargetMessage) { gotUnfollow = &msg },
		Snapshot: func(_ *Client, msg TargetMessage) { gotSnapshot = &msg },
		Sync:     func(_ *Client, msg TrackMessage) { gotSync = &msg },
	}

	require.True(t, Dispatch(c, []byte(`{"type":"presence","action":"start","user":{"userId":"alice","name":"Alice"}}`), h))
	require.NotNil(t, gotPresence)
	assert.Equal(t, ActionStart, gotPresence.Action)
	assert.Equal(t, "alice", gotPresence.User.UserID)

	require.True(t, Dispatch(c, []byte(`{"type":"follow","targetUserId":"bob"}`), h))
	require.NotNil(t, gotFollow)
	assert.Equal(t, "bob", gotFollow.TargetUserID)

	require.True(t, Dispatch(c, []byte(`{"type":"unfollow","targetUserId":"bob"}`), h))
	require.NotNil(t, gotUnfollow)

	require.True(t, Dispatch(c, []byte(`{"type":"req_snapshot","targetUserId":"bob"}`), h))
	require.NotNil(t, gotSnapshot)

	require.True(t, Dispatch(c, []byte(`{"type":"track","trackId":"t1","positionMs":1500,"isPlaying":true,"ts":1700000000000}`), h))
	require.NotNil(t, gotSync)
	assert.Equal(t, TypeTrack, gotSync.Type)
	assert.Equal(t, int64(1500), gotSync.PositionMs)
}

func TestDispatchPauseRoutesToSync(t *testing.T) {
	c := &Client{UserID: "alice"}

	var got *TrackMessage
	h := Handlers{Sync: func(_ *Client, msg TrackMessage) { got = &msg }}

	require.True(t, Dispatch(c, []byte(`{"type":"pause","trackId":"t1","positionMs":42000,"ts":1700000000000}`), h))
	require.NotNil(t, got)
	assert.Equal(t, TypePause, got.Type)
}

func TestDispatchDropsGarbage(t *testing.T) {
	c := &Client{UserID: "alice"}
	handled := false
	h := Handlers{
		Presence: func(*Client, PresenceMessage) { handled = true },
		Sync:     func(*Client, TrackMessage) { handled = true },
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello there`},
		{"no type", `{"action":"start"}`},
		{"unknown type", `{"type":"teleport"}`},
		{"wrong field types", `{"type":"track","positionMs":"fast"}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Dispatch(c, []byte(tt.raw), h))
			assert.False(t, handled)
		})
	}
}

func TestDispatchUnsetHandlerDrops(t *testing.T) {
	c := &Client{UserID: "alice"}
	assert.False(t, Dispatch(c, []byte(`{"type":"follow","targetUserId":"bob"}`), Handlers{}))
}

func TestEventConversionRoundTrip(t *testing.T) {
	emitted := time.UnixMilli(1_700_000_000_000)
	ev := sync.Event{
		Kind:       sync.KindTrack,
		UserID:     "alice",
		TrackID:    "t1",
		Name:       "Song",
		Artists:    []string{"Artist"},
		ArtworkURL: "https://img.example/cover.jpg",
		DurationMs: 200_000,
		PositionMs: 1500,
		IsPlaying:  true,
		EmittedAt:  emitted,
	}

	msg := FromEvent(ev, "Alice")
	assert.Equal(t, TypeTrack, msg.Type)
	assert.Equal(t, "Alice", msg.User.Name)
	assert.Equal(t, emitted.UnixMilli(), msg.TS)

	back := ToEvent(msg)
	assert.Equal(t, ev, back)
}

func TestPauseEventConversion(t *testing.T) {
	ev := sync.Event{
		Kind:       sync.KindPause,
		UserID:     "alice",
		TrackID:    "t1",
		PositionMs: 42_000,
		IsPlaying:  false,
		EmittedAt:  time.UnixMilli(1_700_000_000_000),
	}

	msg := FromEvent(ev, "Alice")
	assert.Equal(t, TypePause, msg.Type)
	assert.False(t, msg.IsPlaying)

	back := ToEvent(msg)
	assert.Equal(t, sync.KindPause, back.Kind)
	assert.False(t, back.IsPlaying)
}

// A pause message claiming isPlaying true still reconciles to a pause; the
// type wins over the flag.
func TestPauseTypeWinsOverFlag(t *testing.T) {
	back := ToEvent(TrackMessage{Type: TypePause, TrackID: "t1", IsPlaying: true, TS: 1_700_000_000_000})
	assert.Equal(t, sync.KindPause, back.Kind)
	assert.False(t, back.IsPlaying)
}
