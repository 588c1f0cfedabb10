// Package fs is a file-backed implementation of profileauth.Store for
// development and tests. All data lives in one JSON document that is
// rewritten atomically after every mutation; a mutex serializes access, so
// the store is safe for concurrent use within one process only.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	pa "github.com/panyam/profileauth"
)

const stateFile = "profileauth.json"

type fsUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"password_hash"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Origin       string    `json:"origin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *fsUser) toUser() *pa.User {
	out := &pa.User{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		AvatarURL:    u.AvatarURL,
		Origin:       u.Origin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.Email != "" {
		email := u.Email
		out.Email = &email
	}
	return out
}

type fsConnection struct {
	UserID       int64     `json:"user_id"`
	Provider     string    `json:"provider"`
	Subject      string    `json:"subject"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

type fsResetToken struct {
	TokenHash string     `json:"token_hash"`
	Email     string     `json:"email"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type state struct {
	NextUserID  int64                    `json:"next_user_id"`
	Users       map[int64]*fsUser        `json:"users"`
	Connections []*fsConnection          `json:"connections"`
	ResetTokens map[string]*fsResetToken `json:"reset_tokens"`
}

// Store implements pa.Store on a directory.
type Store struct {
	StoragePath string

	mu    sync.Mutex
	state state
}

// New opens or creates the store under storagePath.
func New(storagePath string) (*Store, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, err
	}
	s := &Store{StoragePath: storagePath}
	data, err := os.ReadFile(s.path())
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.path(), err)
		}
	}
	if s.state.Users == nil {
		s.state.Users = map[int64]*fsUser{}
	}
	if s.state.ResetTokens == nil {
		s.state.ResetTokens = map[string]*fsResetToken{}
	}
	return s, nil
}

func (s *Store) path() string {
	return filepath.Join(s.StoragePath, stateFile)
}

// save replaces the state file with the in-memory state. It must be called
// with mu held, which is what makes the fixed temp file name safe. Readers
// of the directory see either the old document or the new one.
func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.path())
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

func (s *Store) findUser(match func(*fsUser) bool) *fsUser {
	for _, u := range s.state.Users {
		if match(u) {
			return u
		}
	}
	return nil
}

// UserStore

func (s *Store) CreateUser(ctx context.Context, user *pa.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := user.EmailAddress()
	if s.findUser(func(u *fsUser) bool { return u.Username == user.Username }) != nil {
		return pa.ErrDuplicateUsername
	}
	if email != "" && s.findUser(func(u *fsUser) bool { return u.Email == email }) != nil {
		return pa.ErrDuplicateEmail
	}

	s.state.NextUserID++
	rec := &fsUser{
		ID:           s.state.NextUserID,
		Username:     user.Username,
		Email:        email,
		PasswordHash: user.PasswordHash,
		Name:         user.Name,
		AvatarURL:    user.AvatarURL,
		Origin:       user.Origin,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	s.state.Users[rec.ID] = rec
	if err := s.save(); err != nil {
		delete(s.state.Users, rec.ID)
		s.state.NextUserID--
		return err
	}
	user.ID = rec.ID
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*pa.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.state.Users[id]; ok {
		return u.toUser(), nil
	}
	return nil, fmt.Errorf("user %d: %w", id, pa.ErrNotFound)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*pa.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.findUser(func(u *fsUser) bool { return u.Username == username }); u != nil {
		return u.toUser(), nil
	}
	return nil, fmt.Errorf("username %q: %w", username, pa.ErrNotFound)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*pa.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if email != "" {
		if u := s.findUser(func(u *fsUser) bool { return u.Email == email }); u != nil {
			return u.toUser(), nil
		}
	}
	return nil, fmt.Errorf("email: %w", pa.ErrNotFound)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, oldHash, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, pa.ErrNotFound)
	}
	if u.PasswordHash != oldHash {
		return fmt.Errorf("user %d: %w", userID, pa.ErrPasswordHashChanged)
	}
	prevHash, prevUpdated := u.PasswordHash, u.UpdatedAt
	u.PasswordHash, u.UpdatedAt = newHash, time.Now().UTC()
	if err := s.save(); err != nil {
		u.PasswordHash, u.UpdatedAt = prevHash, prevUpdated
		return err
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, pa.ErrNotFound)
	}
	prevConns := s.state.Connections
	kept := make([]*fsConnection, 0, len(prevConns))
	for _, c := range prevConns {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	delete(s.state.Users, userID)
	s.state.Connections = kept
	if err := s.save(); err != nil {
		s.state.Users[userID] = u
		s.state.Connections = prevConns
		return err
	}
	return nil
}

// ConnectionStore

func (c *fsConnection) toConnection() *pa.SocialConnection {
	return &pa.SocialConnection{
		UserID:       c.UserID,
		Provider:     c.Provider,
		Subject:      c.Subject,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ConnectedAt:  c.ConnectedAt,
	}
}

func (s *Store) GetConnection(ctx context.Context, provider, subject string) (*pa.SocialConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.Connections {
		if c.Provider == provider && c.Subject == subject {
			return c.toConnection(), nil
		}
	}
	return nil, fmt.Errorf("connection %s/%s: %w", provider, subject, pa.ErrNotFound)
}

func (s *Store) UpsertConnection(ctx context.Context, conn *pa.SocialConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Connections
	kept := make([]*fsConnection, 0, len(prev)+1)
	for _, c := range prev {
		if c.Provider == conn.Provider && c.Subject == conn.Subject && c.UserID != conn.UserID {
			return pa.ErrIdentityInUse
		}
		if c.Provider == conn.Provider && c.UserID == conn.UserID {
			continue
		}
		kept = append(kept, c)
	}
	s.state.Connections = append(kept, &fsConnection{
		UserID:       conn.UserID,
		Provider:     conn.Provider,
		Subject:      conn.Subject,
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		ConnectedAt:  conn.ConnectedAt,
	})
	if err := s.save(); err != nil {
		s.state.Connections = prev
		return err
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context, userID int64) ([]*pa.SocialConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pa.SocialConnection
	for _, c := range s.state.Connections {
		if c.UserID == userID {
			out = append(out, c.toConnection())
		}
	}
	return out, nil
}

// ResetTokenStore

func (t *fsResetToken) toToken() *pa.PasswordResetToken {
	return &pa.PasswordResetToken{
		TokenHash: t.TokenHash,
		Email:     t.Email,
		ExpiresAt: t.ExpiresAt,
		Used:      t.Used,
		UsedAt:    t.UsedAt,
		CreatedAt: t.CreatedAt,
	}
}

func (s *Store) CreateResetToken(ctx context.Context, token *pa.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.ResetTokens[token.TokenHash]; exists {
		return errors.New("reset token already exists")
	}
	s.state.ResetTokens[token.TokenHash] = &fsResetToken{
		TokenHash: token.TokenHash,
		Email:     token.Email,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
	}
	if err := s.save(); err != nil {
		delete(s.state.ResetTokens, token.TokenHash)
		return err
	}
	return nil
}

func (s *Store) GetResetToken(ctx context.Context, tokenHash string) (*pa.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.state.ResetTokens[tokenHash]; ok {
		return t.toToken(), nil
	}
	return nil, fmt.Errorf("reset token: %w", pa.ErrNotFound)
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*pa.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.state.ResetTokens[tokenHash]
	if !ok || !t.toToken().ValidAt(now) {
		return nil, pa.ErrInvalidResetToken
	}
	u := s.findUser(func(u *fsUser) bool { return u.Email == t.Email })
	if u == nil {
		return nil, pa.ErrInvalidResetToken
	}

	prevHash, prevUpdated := u.PasswordHash, u.UpdatedAt
	t.Used, t.UsedAt = true, &now
	u.PasswordHash, u.UpdatedAt = newPasswordHash, now
	if err := s.save(); err != nil {
		t.Used, t.UsedAt = false, nil
		u.PasswordHash, u.UpdatedAt = prevHash, prevUpdated
		return nil, err
	}
	return t.toToken(), nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*fsResetToken
	for hash, t := range s.state.ResetTokens {
		if t.ExpiresAt.Before(now) {
			removed = append(removed, t)
			delete(s.state.ResetTokens, hash)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		for _, t := range removed {
			s.state.ResetTokens[t.TokenHash] = t
		}
		return 0, err
	}
	return len(removed), nil
}

var _ pa.Store = (*Store)(nil)
