//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	pa "github.com/panyam/profileauth"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	Email        string         `datastore:"email"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	Name         string         `datastore:"name,noindex"`
	AvatarURL    string         `datastore:"avatar_url,noindex"`
	Origin       string         `datastore:"origin"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *pa.User {
	u := &pa.User{
		ID:           e.Key.ID,
		Username:     e.Username,
		PasswordHash: e.PasswordHash,
		Name:         e.Name,
		AvatarURL:    e.AvatarURL,
		Origin:       e.Origin,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.Email != "" {
		email := e.Email
		u.Email = &email
	}
	return u
}

func UserToEntity(u *pa.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:          key,
		Username:     u.Username,
		Email:        u.EmailAddress(),
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		AvatarURL:    u.AvatarURL,
		Origin:       u.Origin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// MarkerEntity claims a unique value (username, email, user+provider) for
// one user.
type MarkerEntity struct {
	UserID  int64  `datastore:"user_id"`
	Subject string `datastore:"subject,noindex"`
}

// ConnectionEntity is the Datastore entity for social connections
// Key format: Provider + ":" + Subject
type ConnectionEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	UserID       int64          `datastore:"user_id"`
	Provider     string         `datastore:"provider"`
	Subject      string         `datastore:"subject"`
	AccessToken  string         `datastore:"access_token,noindex"`
	RefreshToken string         `datastore:"refresh_token,noindex"`
	ConnectedAt  time.Time      `datastore:"connected_at"`
}

func (e *ConnectionEntity) ToConnection() *pa.SocialConnection {
	return &pa.SocialConnection{
		UserID:       e.UserID,
		Provider:     e.Provider,
		Subject:      e.Subject,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		ConnectedAt:  e.ConnectedAt,
	}
}

// ResetTokenEntity is the Datastore entity for password reset tokens
// Key name: token digest
type ResetTokenEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Email     string         `datastore:"email"`
	ExpiresAt time.Time      `datastore:"expires_at"`
	Used      bool           `datastore:"used"`
	UsedAt    time.Time      `datastore:"used_at,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func (e *ResetTokenEntity) ToResetToken() *pa.PasswordResetToken {
	t := &pa.PasswordResetToken{
		TokenHash: e.Key.Name,
		Email:     e.Email,
		ExpiresAt: e.ExpiresAt,
		Used:      e.Used,
		CreatedAt: e.CreatedAt,
	}
	if !e.UsedAt.IsZero() {
		usedAt := e.UsedAt
		t.UsedAt = &usedAt
	}
	return t
}
