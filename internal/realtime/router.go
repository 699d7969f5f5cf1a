package realtime

import (
	"github.com/goccy/go-json"
)

// Handlers maps message types to their handling functions. Unset handlers
// drop their messages.
type Handlers struct {
	Presence func(c *Client, msg PresenceMessage)
	Follow   func(c *Client, msg TargetMessage)
	Unfollow func(c *Client, msg TargetMessage)
	Snapshot func(c *Client, msg TargetMessage)
	Sync     func(c *Client, msg TrackMessage)
}

// Dispatch routes one raw inbound message to its handler. Malformed
// payloads and unknown types are dropped silently; they are not protocol
// errors. The return value reports whether a handler ran.
func Dispatch(c *Client, raw []byte, h Handlers) bool {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}

	switch env.Type {
	case TypePresence:
		var msg PresenceMessage
		if err := json.Unmarshal(raw, &msg); err != nil || h.Presence == nil {
			return false
		}
		h.Presence(c, msg)

	case TypeFollow:
		var msg TargetMessage
		if err := json.Unmarshal(raw, &msg); err != nil || h.Follow == nil {
			return false
		}
		h.Follow(c, msg)

	case TypeUnfollow:
		var msg TargetMessage
		if err := json.Unmarshal(raw, &msg); err != nil || h.Unfollow == nil {
			return false
		}
		h.Unfollow(c, msg)

	case TypeReqSnapshot:
		var msg TargetMessage
		if err := json.Unmarshal(raw, &msg); err != nil || h.Snapshot == nil {
			return false
		}
		h.Snapshot(c, msg)

	case TypeTrack, TypePause:
		var msg TrackMessage
		if err := json.Unmarshal(raw, &msg); err != nil || h.Sync == nil {
			return false
		}
		msg.Type = env.Type
		h.Sync(c, msg)

	default:
		return false
	}
	return true
}
