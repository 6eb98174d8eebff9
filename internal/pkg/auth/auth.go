// Package auth resolves a connection credential to a verified user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	cacheport "go-leadchat/internal/infrastructure/cache/port"
	userport "go-leadchat/internal/repository/port"
)

// ErrAuthenticationFailed means the credential could not be resolved to a user.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

const tokenCacheTTL = 5 * time.Minute

// Authenticator resolves a credential once, at connect time.
type Authenticator interface {
	ResolveUserID(ctx context.Context, credential string) (string, error)
	// Credential extracts the credential this authenticator expects from r.
	Credential(r *http.Request) string
}

// TokenAuthenticator resolves bearer session tokens, caching positive answers.
type TokenAuthenticator struct {
	cache  cacheport.Cache
	users  userport.UserRepository
	logger *zap.Logger
}

func NewTokenAuthenticator(cache cacheport.Cache, users userport.UserRepository, logger *zap.Logger) *TokenAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenAuthenticator{cache: cache, users: users, logger: logger}
}

func (a *TokenAuthenticator) ResolveUserID(ctx context.Context, credential string) (string, error) {
	token := strings.TrimSpace(credential)
	if token == "" {
		return "", ErrAuthenticationFailed
	}

	if a.cache != nil {
		userID, err := a.cache.Get(ctx, cacheport.SessionTokenKey(token))
		switch {
		case err == nil && userID != "":
			return userID, nil
		case err != nil && !errors.Is(err, cacheport.ErrMiss):
			a.logger.Warn("token cache lookup failed", zap.Error(err))
		}
	}

	userID, err := a.users.FindUserIDBySessionToken(ctx, token)
	if errors.Is(err, userport.ErrSessionNotFound) {
		return "", ErrAuthenticationFailed
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheport.SessionTokenKey(token), userID, tokenCacheTTL); err != nil {
			a.logger.Warn("token cache write failed", zap.Error(err))
		}
	}
	return userID, nil
}

// Credential reads "Authorization: Bearer <token>", falling back to the token
// query parameter because browsers cannot set headers on a websocket upgrade.
func (a *TokenAuthenticator) Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// TrustedAuthenticator accepts the user id verbatim. Development only.
type TrustedAuthenticator struct{}

func (TrustedAuthenticator) ResolveUserID(_ context.Context, credential string) (string, error) {
	userID := strings.TrimSpace(credential)
	if userID == "" {
		return "", ErrAuthenticationFailed
	}
	return userID, nil
}

func (TrustedAuthenticator) Credential(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return r.URL.Query().Get("user_id")
}
