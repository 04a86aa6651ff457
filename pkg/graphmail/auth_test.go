package graphmail

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthConfig() AuthConfig {
	return AuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "tenant-id",
		RedirectURL:  "http://localhost:8400/callback",
	}
}

func TestAuthorizationURL(t *testing.T) {
	a := NewAuthenticator(testAuthConfig())

	raw := a.AuthorizationURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "https://login.microsoftonline.com/tenant-id/oauth2/v2.0/authorize"))
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "Mail.Read")
	assert.Contains(t, q.Get("scope"), "offline_access")
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenant-id/oauth2/v2.0/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600}`)
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(testAuthConfig(), WithLoginURL(srv.URL))
	tok, err := a.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)

	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.False(t, tok.Expired())
}

func TestExchangeCode_Denied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant"}`)
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(testAuthConfig(), WithLoginURL(srv.URL))
	_, err := a.ExchangeCode(context.Background(), "bad-code")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestFileTokenStore_SaveLoad(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)

	tok := &Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, store.Save("orders@example.com", tok))
	assert.True(t, store.Connected("orders@example.com"))
	assert.False(t, store.Connected("other@example.com"))

	got, err := store.Load("orders@example.com")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
}

func TestRefreshingTokenSource_RefreshesExpired(t *testing.T) {
	refreshes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		refreshes++

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"access_token": "at-new", "refresh_token": "rt-new", "expires_in": 3600}`)
	}))
	t.Cleanup(srv.Close)

	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("orders@example.com", &Token{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	a := NewAuthenticator(testAuthConfig(), WithLoginURL(srv.URL))
	src := NewRefreshingTokenSource(a, store, "orders@example.com")

	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", token)
	assert.Equal(t, 1, refreshes)

	// Second call serves from memory, no extra refresh.
	token, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", token)
	assert.Equal(t, 1, refreshes)

	// The rotated refresh token was persisted.
	saved, err := store.Load("orders@example.com")
	require.NoError(t, err)
	assert.Equal(t, "rt-new", saved.RefreshToken)
}

func TestRefreshingTokenSource_ValidTokenServedFromFile(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("orders@example.com", &Token{
		AccessToken:  "at-valid",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	a := NewAuthenticator(testAuthConfig(), WithLoginURL("http://127.0.0.1:1")) // must not be contacted
	src := NewRefreshingTokenSource(a, store, "orders@example.com")

	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-valid", token)
}
