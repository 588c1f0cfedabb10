//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	pa "github.com/panyam/profileauth"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	Username     string  `gorm:"size:64;not null;uniqueIndex:idx_users_username"`
	Email        *string `gorm:"size:255;uniqueIndex:idx_users_email"`
	PasswordHash string  `gorm:"size:255;not null"`
	Name         string  `gorm:"size:255"`
	AvatarURL    string  `gorm:"size:1024"`
	Origin       string  `gorm:"size:32;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *pa.User {
	return &pa.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Name:         m.Name,
		AvatarURL:    m.AvatarURL,
		Origin:       m.Origin,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func UserToModel(u *pa.User) *UserModel {
	var email *string
	if addr := u.EmailAddress(); addr != "" {
		email = &addr
	}
	return &UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		AvatarURL:    u.AvatarURL,
		Origin:       u.Origin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// ConnectionModel is the GORM model for social connections
type ConnectionModel struct {
	UserID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Provider     string `gorm:"primaryKey;size:32;uniqueIndex:idx_connections_identity,priority:1"`
	Subject      string `gorm:"size:255;not null;uniqueIndex:idx_connections_identity,priority:2"`
	AccessToken  string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	ConnectedAt  time.Time
}

func (ConnectionModel) TableName() string {
	return "connections"
}

func (m *ConnectionModel) ToConnection() *pa.SocialConnection {
	return &pa.SocialConnection{
		UserID:       m.UserID,
		Provider:     m.Provider,
		Subject:      m.Subject,
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		ConnectedAt:  m.ConnectedAt,
	}
}

func ConnectionToModel(c *pa.SocialConnection) *ConnectionModel {
	return &ConnectionModel{
		UserID:       c.UserID,
		Provider:     c.Provider,
		Subject:      c.Subject,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ConnectedAt:  c.ConnectedAt,
	}
}

// ResetTokenModel is the GORM model for password reset tokens
type ResetTokenModel struct {
	TokenHash string    `gorm:"primaryKey;size:64"`
	Email     string    `gorm:"size:255;not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	Used      bool      `gorm:"not null;default:false"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (ResetTokenModel) TableName() string {
	return "reset_tokens"
}

func (m *ResetTokenModel) ToResetToken() *pa.PasswordResetToken {
	return &pa.PasswordResetToken{
		TokenHash: m.TokenHash,
		Email:     m.Email,
		ExpiresAt: m.ExpiresAt,
		Used:      m.Used,
		UsedAt:    m.UsedAt,
		CreatedAt: m.CreatedAt,
	}
}
