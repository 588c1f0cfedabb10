package profileauth

import (
	"context"
	"time"
)

// OriginLocal marks users created through explicit registration. Users
// created by a first-time OAuth login carry the provider name instead.
const OriginLocal = "local"

// User is a local account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Origin       string    `json:"origin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EmailAddress returns the user's email or "" when none is set.
func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// ExternalIdentity is a provider profile normalized into the fields account
// resolution understands. It is never persisted directly.
type ExternalIdentity struct {
	Provider  string
	Subject   string
	Email     string // only set when the provider asserts it
	Name      string
	AvatarURL string
}

// SocialConnection links a user to an identity at an OAuth provider.
// There is at most one connection per (UserID, Provider) and per
// (Provider, Subject).
type SocialConnection struct {
	UserID       int64     `json:"userId"`
	Provider     string    `json:"provider"`
	Subject      string    `json:"subject"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// PasswordResetToken is keyed by the SHA-256 digest of the token that was
// mailed to the user. The plaintext token is never stored.
type PasswordResetToken struct {
	TokenHash string
	Email     string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// ValidAt reports whether the token can still be consumed at now.
func (t *PasswordResetToken) ValidAt(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser assigns user.ID and inserts the user. The uniqueness check
	// and insert are atomic: a concurrent duplicate returns
	// ErrDuplicateUsername or ErrDuplicateEmail, never an overwrite.
	CreateUser(ctx context.Context, user *User) error

	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePasswordHash replaces the user's hash only while it still equals
	// oldHash, and returns ErrPasswordHashChanged otherwise.
	UpdatePasswordHash(ctx context.Context, userID int64, oldHash, newHash string) error

	// DeleteUser removes the user, its username and email claims, and its
	// connections. Deleting a missing user returns ErrNotFound.
	DeleteUser(ctx context.Context, userID int64) error
}

// ConnectionStore persists social connections.
type ConnectionStore interface {
	GetConnection(ctx context.Context, provider, subject string) (*SocialConnection, error)

	// UpsertConnection creates or replaces the connection for
	// (conn.UserID, conn.Provider). It returns ErrIdentityInUse if
	// (conn.Provider, conn.Subject) already belongs to another user.
	UpsertConnection(ctx context.Context, conn *SocialConnection) error

	ListConnections(ctx context.Context, userID int64) ([]*SocialConnection, error)
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, token *PasswordResetToken) error
	GetResetToken(ctx context.Context, tokenHash string) (*PasswordResetToken, error)

	// ConsumeResetToken marks the token used and sets the password hash of
	// the user owning the token's email, as one atomic operation. It fails
	// with ErrInvalidResetToken unless the token exists, is unused and has
	// not expired at now.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*PasswordResetToken, error)

	// DeleteExpiredResetTokens removes tokens whose expiry is before now.
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error)
}

// Store is implemented by every storage backend.
type Store interface {
	UserStore
	ConnectionStore
	ResetTokenStore
}
