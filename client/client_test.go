package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pa "github.com/panyam/profileauth"
	"github.com/panyam/profileauth/client"
	"github.com/panyam/profileauth/password"
	"github.com/panyam/profileauth/server"
	"github.com/panyam/profileauth/stores/fs"
)

type apiServer struct {
	*httptest.Server
	renewals atomic.Int32
}

func newAPIServer(t *testing.T, cfg pa.SessionConfig) *apiServer {
	t.Helper()
	store, err := fs.New(t.TempDir())
	require.NoError(t, err)
	hasher, err := password.New(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)

	creds := pa.NewCredentialStore(store, hasher, pa.Policy{})
	_, err = creds.Register(context.Background(), pa.Registration{Username: "alice", Password: "S3cret!", Name: "Alice"})
	require.NoError(t, err)

	sessions := pa.NewSessionManager(nil, store, cfg)
	h := server.NewRouter(server.Options{
		Sessions: sessions,
		Local:    &pa.LocalAuth{Credentials: creds, Sessions: sessions, Connections: store},
		Resets:   &pa.ResetHandlers{Resets: &pa.PasswordResets{Users: store, Tokens: store, Hasher: hasher}},
	})

	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token" {
			s.renewals.Add(1)
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestLoginMeLogout(t *testing.T) {
	srv := newAPIServer(t, pa.SessionConfig{APITokenSecret: "secret"})
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL+"/some/path", client.NewMemoryCredentialStore())
	assert.Equal(t, srv.URL, c.ServerURL())
	assert.False(t, c.IsLoggedIn())

	cred, err := c.Login(ctx, "alice", "S3cret!")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
	assert.NotZero(t, cred.UserID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), cred.ExpiresAt, 5*time.Second)
	assert.True(t, c.IsLoggedIn())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred.UserID, me.ID)

	// The authenticated HTTP client works for arbitrary API calls too.
	resp, err := c.HTTPClient().Get(srv.URL + "/api/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, srv.renewals.Load())

	require.NoError(t, c.Logout(ctx))
	assert.False(t, c.IsLoggedIn())

	// The server session bound to the old token is gone.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenIsRenewedBeforeExpiry(t *testing.T) {
	// Shorter than RefreshThreshold, so every use renews.
	srv := newAPIServer(t, pa.SessionConfig{APITokenSecret: "secret", APITokenTTL: time.Minute})
	ctx := context.Background()
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())

	_, err := c.Login(ctx, "alice", "S3cret!")
	require.NoError(t, err)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	assert.GreaterOrEqual(t, srv.renewals.Load(), int32(1))

	cred, err := c.GetCredential()
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
}

func TestLoginErrors(t *testing.T) {
	ctx := context.Background()

	srv := newAPIServer(t, pa.SessionConfig{APITokenSecret: "secret"})
	c := client.NewAuthClient(srv.URL, client.NewMemoryCredentialStore())
	_, err := c.Login(ctx, "alice", "wrong")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, pa.ErrCodeInvalidCreds, apiErr.Code)
	assert.False(t, c.IsLoggedIn())

	_, err = c.Me(ctx)
	assert.ErrorIs(t, err, pa.ErrNotAuthenticated)

	noTokens := newAPIServer(t, pa.SessionConfig{})
	c = client.NewAuthClient(noTokens.URL, client.NewMemoryCredentialStore())
	_, err = c.Login(ctx, "alice", "S3cret!")
	assert.ErrorIs(t, err, client.ErrTokensDisabled)
}

func TestExpiredCredentialIsIgnored(t *testing.T) {
	store := client.NewMemoryCredentialStore()
	store.SetCredential("http://example.invalid", &client.ServerCredential{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	c := client.NewAuthClient("http://example.invalid", store)

	token, err := c.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, c.IsLoggedIn())
}
