package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNoCredential is returned when a session holds neither an access
	// token nor a refresh token.
	ErrNoCredential = errors.New("no credential for session")

	// ErrNoSession is returned when the session ID resolves to nothing.
	ErrNoSession = errors.New("unknown session")
)

// RefreshError is returned when the provider rejects a refresh-token
// exchange with a non-200 response.
type RefreshError struct {
	Status int
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh-token exchange failed with status %d", e.Status)
}

// statusCoder is implemented by provider errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// isUnauthorized reports whether err is a provider 401.
func isUnauthorized(err error) bool {
	var sc statusCoder
	return errors.As(err, &sc) && sc.HTTPStatus() == 401
}
