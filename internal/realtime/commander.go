package realtime

import (
	"context"

	"github.com/Thabobear/celebeaty/internal/auth"
	"github.com/Thabobear/celebeaty/internal/player"
	"github.com/Thabobear/celebeaty/internal/sync"
)

// commander adapts the token lifecycle manager and provider facade into
// the receiver engine's command interface. Every call runs with a valid
// access token and gets the one-refresh-and-retry treatment on 401.
type commander struct {
	tokens    *auth.Manager
	player    *player.Client
	sessionID string
}

var _ sync.Commander = (*commander)(nil)

func (c *commander) Devices(ctx context.Context) ([]player.Device, error) {
	var out []player.Device
	err := c.tokens.Retry401(ctx, c.sessionID, func(token string) error {
		devices, err := c.player.Devices(ctx, token)
		if err != nil {
			return err
		}
		out = devices
		return nil
	})
	return out, err
}

func (c *commander) Transfer(ctx context.Context, deviceID string, autoplay bool) error {
	return c.tokens.Retry401(ctx, c.sessionID, func(token string) error {
		return c.player.Transfer(ctx, token, deviceID, autoplay)
	})
}

func (c *commander) Play(ctx context.Context, req player.PlayRequest) error {
	return c.tokens.Retry401(ctx, c.sessionID, func(token string) error {
		return c.player.Play(ctx, token, req)
	})
}

func (c *commander) Pause(ctx context.Context) error {
	return c.tokens.Retry401(ctx, c.sessionID, func(token string) error {
		return c.player.Pause(ctx, token)
	})
}

func (c *commander) Seek(ctx context.Context, positionMs int64) error {
	return c.tokens.Retry401(ctx, c.sessionID, func(token string) error {
		return c.player.Seek(ctx, token, positionMs)
	})
}
