package profileauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panyam/profileauth/password"
)

// CredentialStore registers users and checks their passwords.
type CredentialStore struct {
	Users   UserStore
	Hasher  *password.Hasher
	Policy  Policy
	Metrics *Metrics
	Logger  *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentialStore(users UserStore, hasher *password.Hasher, policy Policy) *CredentialStore {
	policy.EnsureDefaults()
	if hasher == nil {
		hasher = password.Default()
	}
	return &CredentialStore{Users: users, Hasher: hasher, Policy: policy, Logger: slog.Default()}
}

// Register validates reg and creates a local user. Duplicate usernames and
// emails are reported by the store's atomic insert, not by a prior lookup.
func (c *CredentialStore) Register(ctx context.Context, reg Registration) (*User, error) {
	if err := c.Policy.Validate(&reg); err != nil {
		c.Metrics.Registration("invalid")
		return nil, err
	}
	hash, err := c.Hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	now := time.Now().UTC()
	user := &User{
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(reg.Name),
		Origin:       OriginLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUsername) || errors.Is(err, ErrDuplicateEmail) {
			c.Metrics.Registration("duplicate")
		}
		return nil, err
	}
	c.Metrics.Registration("created")
	c.log().Info("registered user", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// VerifyCredentials looks identifier up as a username, then as an email,
// and checks password against the stored hash. Unknown identifiers still
// pay for one hash verification so timing does not reveal which accounts
// exist.
func (c *CredentialStore) VerifyCredentials(ctx context.Context, identifier, pw string) (*User, error) {
	user, err := c.lookup(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		c.Hasher.Verify(pw, c.dummy())
		return nil, ErrUnknownIdentifier
	}
	if err != nil {
		return nil, err
	}

	ok, rehash, err := c.Hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		c.log().Warn("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, ErrWrongPassword
	}
	if !ok {
		return nil, ErrWrongPassword
	}
	if rehash {
		c.upgradeHash(ctx, user, pw)
	}
	return user, nil
}

// ChangePassword re-verifies current before setting next, even though the
// caller already holds a session.
func (c *CredentialStore) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if err := c.Policy.CheckPassword(next, "newPassword"); err != nil {
		return err
	}
	user, err := c.Users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, _, err := c.Hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrWrongCurrentPassword
	}
	hash, err := c.Hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	// A concurrent change or reset already replaced the hash that current
	// was checked against.
	if err := c.Users.UpdatePasswordHash(ctx, userID, user.PasswordHash, hash); err != nil {
		if errors.Is(err, ErrPasswordHashChanged) {
			return ErrWrongCurrentPassword
		}
		return err
	}
	c.log().Info("password changed", "user_id", userID)
	return nil
}

func (c *CredentialStore) lookup(ctx context.Context, identifier string) (*User, error) {
	user, err := c.Users.GetUserByUsername(ctx, identifier)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return user, err
	}
	if !strings.Contains(identifier, "@") {
		return nil, ErrNotFound
	}
	return c.Users.GetUserByEmail(ctx, NormalizeEmail(identifier))
}

// upgradeHash rehashes pw only while the stored hash is still the one it
// was verified against.
func (c *CredentialStore) upgradeHash(ctx context.Context, user *User, pw string) {
	hash, err := c.Hasher.Hash(pw)
	if err == nil {
		err = c.Users.UpdatePasswordHash(ctx, user.ID, user.PasswordHash, hash)
	}
	if errors.Is(err, ErrPasswordHashChanged) {
		c.log().Info("skipped password hash upgrade, password changed meanwhile", "user_id", user.ID)
		return
	}
	if err != nil {
		c.log().Warn("password hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	c.log().Info("upgraded password hash", "user_id", user.ID)
}

func (c *CredentialStore) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *CredentialStore) dummy() string {
	c.dummyOnce.Do(func() {
		h, err := c.Hasher.Unusable()
		if err != nil {
			c.log().Error("generating dummy hash", "error", err)
		}
		c.dummyHash = h
	})
	return c.dummyHash
}
