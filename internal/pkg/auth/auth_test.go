package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheadapter "go-leadchat/internal/infrastructure/cache/adapter"
	cacheport "go-leadchat/internal/infrastructure/cache/port"
	userport "go-leadchat/internal/repository/port"
)

type fakeUsers struct {
	sessions map[string]string
	calls    int
	err      error
}

func (f *fakeUsers) FindUserIDBySessionToken(_ context.Context, token string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	id, ok := f.sessions[token]
	if !ok {
		return "", userport.ErrSessionNotFound
	}
	return id, nil
}

func TestTokenAuthenticator(t *testing.T) {
	ctx := context.Background()
	cache := cacheadapter.NewMemoryCache()
	users := &fakeUsers{sessions: map[string]string{"tok-h": "H"}}
	a := NewTokenAuthenticator(cache, users, nil)

	id, err := a.ResolveUserID(ctx, "tok-h")
	require.NoError(t, err)
	assert.Equal(t, "H", id)

	cached, err := cache.Get(ctx, cacheport.SessionTokenKey("tok-h"))
	require.NoError(t, err)
	assert.Equal(t, "H", cached)

	// second resolution is served from the cache
	_, err = a.ResolveUserID(ctx, "tok-h")
	require.NoError(t, err)
	assert.Equal(t, 1, users.calls)

	_, err = a.ResolveUserID(ctx, "unknown")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = a.ResolveUserID(ctx, "  ")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	users.err = errors.New("db down")
	_, err = a.ResolveUserID(ctx, "other")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestCredentialExtraction(t *testing.T) {
	a := NewTokenAuthenticator(nil, &fakeUsers{}, nil)

	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	assert.Equal(t, "q", a.Credential(r))

	r.Header.Set("Authorization", "Bearer hdr")
	assert.Equal(t, "hdr", a.Credential(r))

	var trusted TrustedAuthenticator
	r = httptest.NewRequest("GET", "/ws?user_id=T", nil)
	assert.Equal(t, "T", trusted.Credential(r))
	id, err := trusted.ResolveUserID(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "T", id)
	_, err = trusted.ResolveUserID(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
