package redisstore_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pa "github.com/panyam/profileauth"
	"github.com/panyam/profileauth/stores/fs"
	"github.com/panyam/profileauth/stores/redisstore"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisstore.New(rdb), mr
}

func TestFindCommitDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, found, err := s.FindCtx(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.CommitCtx(ctx, "tok", []byte("data"), time.Now().Add(time.Minute)))
	assert.True(t, mr.Exists(redisstore.DefaultPrefix+"tok"))

	b, found, err := s.FindCtx(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "data", string(b))

	all, err := s.AllCtx(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"tok": []byte("data")}, all)

	require.NoError(t, s.DeleteCtx(ctx, "tok"))
	_, found, err = s.FindCtx(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionsExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.CommitCtx(ctx, "tok", []byte("data"), time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	_, found, err := s.FindCtx(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, found)

	// An expiry in the past deletes instead of writing.
	require.NoError(t, s.CommitCtx(ctx, "old", []byte("data"), time.Now().Add(-time.Second)))
	assert.False(t, mr.Exists(redisstore.DefaultPrefix+"old"))
}

func TestLoginSessionSharedAcrossManagers(t *testing.T) {
	s, _ := newTestStore(t)
	users, err := fs.New(t.TempDir())
	require.NoError(t, err)

	u := &pa.User{Username: "alice", PasswordHash: "h", Origin: pa.OriginLocal}
	require.NoError(t, users.CreateUser(context.Background(), u))

	first := pa.NewSessionManager(s, users, pa.SessionConfig{})
	second := pa.NewSessionManager(s, users, pa.SessionConfig{})

	login := first.Sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, first.Login(r.Context(), u))
	}))
	rec := httptest.NewRecorder()
	login.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	var current *pa.User
	me := second.Sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current, _ = second.CurrentUser(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	me.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, current)
	assert.Equal(t, u.ID, current.ID)
}
