package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pa "github.com/panyam/profileauth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateUserUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := &pa.User{Username: "alice", Email: strPtr("alice@x.com"), PasswordHash: "h", Origin: pa.OriginLocal}
	require.NoError(t, s.CreateUser(ctx, alice))
	assert.NotZero(t, alice.ID)

	err := s.CreateUser(ctx, &pa.User{Username: "alice", PasswordHash: "h"})
	assert.ErrorIs(t, err, pa.ErrDuplicateUsername)

	err = s.CreateUser(ctx, &pa.User{Username: "alice2", Email: strPtr("alice@x.com"), PasswordHash: "h"})
	assert.ErrorIs(t, err, pa.ErrDuplicateEmail)

	// Users without email never collide on email.
	require.NoError(t, s.CreateUser(ctx, &pa.User{Username: "bob", PasswordHash: "h"}))
	require.NoError(t, s.CreateUser(ctx, &pa.User{Username: "carol", PasswordHash: "h"}))
}

func TestConcurrentCreateOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateUser(ctx, &pa.User{Username: "racer", PasswordHash: "h"})
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, pa.ErrDuplicateUsername):
				dups.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 19, dups.Load())
}

func TestLookupsAndPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	u := &pa.User{Username: "alice", Email: strPtr("alice@x.com"), PasswordHash: "h1", Name: "Alice"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "h1", "h2"))
	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, u.ID, "h1", "h3"), pa.ErrPasswordHashChanged)

	info, err := os.Stat(filepath.Join(dir, stateFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	_, err = os.Stat(filepath.Join(dir, stateFile+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file left behind")

	reopened, err := New(dir)
	require.NoError(t, err)

	got, err := reopened.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "h2", got.PasswordHash)

	got, err = reopened.GetUserByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	_, err = reopened.GetUserByUsername(ctx, "Alice")
	assert.ErrorIs(t, err, pa.ErrNotFound, "usernames are case-sensitive")
	_, err = reopened.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, pa.ErrNotFound)

	// IDs keep increasing after reopen.
	next := &pa.User{Username: "bob", PasswordHash: "h"}
	require.NoError(t, reopened.CreateUser(ctx, next))
	assert.Greater(t, next.ID, u.ID)
}

func TestConnections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertConnection(ctx, &pa.SocialConnection{UserID: 1, Provider: "github", Subject: "42", AccessToken: "a1"}))
	require.NoError(t, s.UpsertConnection(ctx, &pa.SocialConnection{UserID: 1, Provider: "github", Subject: "42", AccessToken: "a2"}))

	conns, err := s.ListConnections(ctx, 1)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "a2", conns[0].AccessToken)

	err = s.UpsertConnection(ctx, &pa.SocialConnection{UserID: 2, Provider: "github", Subject: "42"})
	assert.ErrorIs(t, err, pa.ErrIdentityInUse)

	got, err := s.GetConnection(ctx, "github", "42")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UserID)

	_, err = s.GetConnection(ctx, "google", "42")
	assert.ErrorIs(t, err, pa.ErrNotFound)
}

func TestConsumeResetToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	u := &pa.User{Username: "alice", Email: strPtr("alice@x.com"), PasswordHash: "old"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.CreateResetToken(ctx, &pa.PasswordResetToken{TokenHash: "t1", Email: "alice@x.com", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, s.CreateResetToken(ctx, &pa.PasswordResetToken{TokenHash: "t2", Email: "alice@x.com", ExpiresAt: now.Add(-time.Minute), CreatedAt: now}))

	_, err := s.ConsumeResetToken(ctx, "t2", now, "new")
	assert.ErrorIs(t, err, pa.ErrInvalidResetToken, "expired")
	_, err = s.ConsumeResetToken(ctx, "nope", now, "new")
	assert.ErrorIs(t, err, pa.ErrInvalidResetToken, "unknown")

	tok, err := s.ConsumeResetToken(ctx, "t1", now, "new")
	require.NoError(t, err)
	assert.True(t, tok.Used)
	got, _ := s.GetUserByID(ctx, u.ID)
	assert.Equal(t, "new", got.PasswordHash)

	_, err = s.ConsumeResetToken(ctx, "t1", now, "newer")
	assert.ErrorIs(t, err, pa.ErrInvalidResetToken, "already used")
	got, _ = s.GetUserByID(ctx, u.ID)
	assert.Equal(t, "new", got.PasswordHash)

	n, err := s.DeleteExpiredResetTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.GetResetToken(ctx, "t2")
	assert.ErrorIs(t, err, pa.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := &pa.User{Username: "mk.1", Email: strPtr("shadow@x.com"), PasswordHash: "h", Origin: "mock"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.UpsertConnection(ctx, &pa.SocialConnection{UserID: u.ID, Provider: "mock", Subject: "1", ConnectedAt: time.Now().UTC()}))

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err := s.GetUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, pa.ErrNotFound)
	_, err = s.GetConnection(ctx, "mock", "1")
	assert.ErrorIs(t, err, pa.ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), pa.ErrNotFound)

	// The username and email are free again.
	again := &pa.User{Username: "mk.1", Email: strPtr("shadow@x.com"), PasswordHash: "h", Origin: "mock"}
	require.NoError(t, s.CreateUser(ctx, again))
}
