// Package player is a thin typed facade over the Spotify player API. It
// exposes exactly the capabilities the sync engines need: read playback
// state, list devices, transfer, play, pause and seek. Provider failures
// come back as typed errors; a 429 carries its retry-after hint.
package player

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/Thabobear/celebeaty/internal/metrics"
)

// Playback is the provider's current playback state for one user.
type Playback struct {
	TrackID    string
	TrackURI   string
	Name       string
	Artists    []string
	ArtworkURL string
	DurationMs int64
	PositionMs int64
	IsPlaying  bool
}

// Device is one of the user's playback devices.
type Device struct {
	ID         string
	Name       string
	Active     bool
	Restricted bool
}

// PlayRequest starts playback of a track at a position, optionally on a
// specific device.
type PlayRequest struct {
	TrackURI   string
	PositionMs int64
	DeviceID   string
}

// Client issues provider calls. It is stateless; every call takes the
// access token for the acting user.
type Client struct {
	http *http.Client
}

// New creates a Client whose provider calls are bounded by timeout.
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// api builds a provider client authorized with the given access token.
// Refresh is owned by the auth manager, so the token source is static.
func (c *Client) api(ctx context.Context, token string) *spotify.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	return spotify.New(httpClient)
}

// State returns the user's current playback state, or ErrNoActiveItem when
// nothing is playing.
func (c *Client) State(ctx context.Context, token string) (*Playback, error) {
	metrics.ProviderCalls.WithLabelValues("state").Inc()

	ps, err := c.api(ctx, token).PlayerState(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if ps == nil || ps.Item == nil {
		return nil, ErrNoActiveItem
	}

	artists := make([]string, 0, len(ps.Item.Artists))
	for _, a := range ps.Item.Artists {
		artists = append(artists, a.Name)
	}

	pb := &Playback{
		TrackID:    string(ps.Item.ID),
		TrackURI:   string(ps.Item.URI),
		Name:       ps.Item.Name,
		Artists:    artists,
		DurationMs: int64(ps.Item.Duration),
		PositionMs: int64(ps.Progress),
		IsPlaying:  ps.Playing,
	}
	if len(ps.Item.Album.Images) > 0 {
		pb.ArtworkURL = ps.Item.Album.Images[0].URL
	}
	return pb, nil
}

// Devices returns the user's playback devices.
func (c *Client) Devices(ctx context.Context, token string) ([]Device, error) {
	metrics.ProviderCalls.WithLabelValues("devices").Inc()

	list, err := c.api(ctx, token).PlayerDevices(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	devices := make([]Device, 0, len(list))
	for _, d := range list {
		devices = append(devices, Device{
			ID:         string(d.ID),
			Name:       d.Name,
			Active:     d.Active,
			Restricted: d.Restricted,
		})
	}
	return devices, nil
}

// Transfer moves playback to the given device.
func (c *Client) Transfer(ctx context.Context, token, deviceID string, autoplay bool) error {
	metrics.ProviderCalls.WithLabelValues("transfer").Inc()
	return mapError(c.api(ctx, token).TransferPlayback(ctx, spotify.ID(deviceID), autoplay))
}

// Play starts playback of req.TrackURI at req.PositionMs.
func (c *Client) Play(ctx context.Context, token string, req PlayRequest) error {
	metrics.ProviderCalls.WithLabelValues("play").Inc()

	opts := &spotify.PlayOptions{
		URIs:       []spotify.URI{spotify.URI(req.TrackURI)},
		PositionMs: spotify.Numeric(req.PositionMs),
	}
	if req.DeviceID != "" {
		id := spotify.ID(req.DeviceID)
		opts.DeviceID = &id
	}
	return mapError(c.api(ctx, token).PlayOpt(ctx, opts))
}

// Pause pauses the user's playback.
func (c *Client) Pause(ctx context.Context, token string) error {
	metrics.ProviderCalls.WithLabelValues("pause").Inc()
	return mapError(c.api(ctx, token).Pause(ctx))
}

// Seek moves the user's playback to positionMs within the current track.
func (c *Client) Seek(ctx context.Context, token string, positionMs int64) error {
	metrics.ProviderCalls.WithLabelValues("seek").Inc()
	return mapError(c.api(ctx, token).Seek(ctx, int(positionMs)))
}

// TrackURI builds a provider track URI from a bare track ID.
func TrackURI(trackID string) string {
	if strings.HasPrefix(trackID, "spotify:") {
		return trackID
	}
	return "spotify:track:" + trackID
}

// mapError converts provider client errors into this package's taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var serr spotify.Error
	if errors.As(err, &serr) {
		if serr.Status == http.StatusTooManyRequests {
			return &RateLimitedError{RetryAfter: serr.RetryAfter}
		}
		return &StatusError{Status: serr.Status, Message: serr.Message}
	}
	return err
}
