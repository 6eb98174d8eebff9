package repository

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when a token matches no live session.
var ErrSessionNotFound = errors.New("user repository: session not found")

// UserRepository reads the surrounding application's user sessions.
type UserRepository interface {
	// FindUserIDBySessionToken resolves an unexpired session token to its user id.
	FindUserIDBySessionToken(ctx context.Context, token string) (string, error)
}
