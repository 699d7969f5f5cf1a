package player

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"
)

func TestMapError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, mapError(nil))
	})

	t.Run("429 becomes rate limited with retry-after", func(t *testing.T) {
		err := mapError(spotify.Error{Status: 429, Message: "rate limited", RetryAfter: 5 * time.Second})

		var rl *RateLimitedError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, 5*time.Second, rl.RetryAfter)
		assert.Equal(t, 429, rl.HTTPStatus())
	})

	t.Run("other statuses become status errors", func(t *testing.T) {
		err := mapError(spotify.Error{Status: 401, Message: "the access token expired"})

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 401, se.HTTPStatus())
	})

	t.Run("wrapped provider errors unwrap", func(t *testing.T) {
		wrapped := fmt.Errorf("calling player: %w", spotify.Error{Status: 404, Message: "not found"})
		err := mapError(wrapped)

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 404, se.Status)
	})

	t.Run("non-provider errors pass through", func(t *testing.T) {
		sentinel := errors.New("dial tcp: timeout")
		assert.Equal(t, sentinel, mapError(sentinel))
	})
}
