package profileauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/panyam/profileauth/password"
)

// DeriveUsername builds the provider-namespaced username for a subject,
// e.g. ("gh", "583231") -> "gh.583231". Registration rejects '.', so a
// derived name can never equal a locally chosen one.
func DeriveUsername(prefix, subject string) string {
	return prefix + "." + strings.ToLower(subject)
}

// ConnectionTokens are the provider credentials kept on a SocialConnection.
type ConnectionTokens struct {
	AccessToken  string
	RefreshToken string
}

// AccountResolver maps external identities onto local users.
type AccountResolver struct {
	Users       UserStore
	Connections ConnectionStore
	Hasher      *password.Hasher

	// Prefixes maps provider names to username prefixes. Providers missing
	// from the map use their own name.
	Prefixes map[string]string

	Logger *slog.Logger
}

func (a *AccountResolver) prefix(provider string) string {
	if p, ok := a.Prefixes[provider]; ok && p != "" {
		return p
	}
	return provider
}

// Resolve returns the local user for ident, creating a shadow account the
// first time an identity is seen. Matching order:
//
//  1. an existing connection for (provider, subject)
//  2. a user with the provider-asserted email
//  3. a user with the derived username, if that user was created by the
//     same provider
//
// Existing users are never modified. Repeating a resolution for the same
// identity always returns the same user. created reports whether a shadow
// account was made by this call.
func (a *AccountResolver) Resolve(ctx context.Context, ident *ExternalIdentity) (user *User, created bool, err error) {
	if ident.Provider == "" || ident.Subject == "" {
		return nil, false, errors.New("external identity needs provider and subject")
	}
	user, err = a.find(ctx, ident)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	user, err = a.createShadow(ctx, ident)
	if errors.Is(err, ErrDuplicateUsername) || errors.Is(err, ErrDuplicateEmail) {
		// Lost a race with a concurrent resolution of the same identity.
		user, err = a.find(ctx, ident)
		return user, false, err
	}
	return user, err == nil, err
}

// Discard deletes a shadow account that Resolve created for an attempt that
// failed afterwards.
func (a *AccountResolver) Discard(ctx context.Context, user *User) {
	if err := a.Users.DeleteUser(ctx, user.ID); err != nil {
		a.log().Error("discarding shadow account", "user_id", user.ID, "error", err)
		return
	}
	a.log().Info("discarded shadow account", "user_id", user.ID, "username", user.Username)
}

func (a *AccountResolver) find(ctx context.Context, ident *ExternalIdentity) (*User, error) {
	if a.Connections != nil {
		conn, err := a.Connections.GetConnection(ctx, ident.Provider, ident.Subject)
		if err == nil {
			return a.Users.GetUserByID(ctx, conn.UserID)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	if ident.Email != "" {
		user, err := a.Users.GetUserByEmail(ctx, NormalizeEmail(ident.Email))
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	username := DeriveUsername(a.prefix(ident.Provider), ident.Subject)
	user, err := a.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.Origin != ident.Provider {
		a.log().Warn("derived username owned by unrelated account",
			"provider", ident.Provider, "username", username, "user_id", user.ID)
		return nil, ErrUsernameConflict
	}
	return user, nil
}

func (a *AccountResolver) createShadow(ctx context.Context, ident *ExternalIdentity) (*User, error) {
	hash, err := a.hasher().Unusable()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &User{
		Username:     DeriveUsername(a.prefix(ident.Provider), ident.Subject),
		PasswordHash: hash,
		Name:         ident.Name,
		AvatarURL:    ident.AvatarURL,
		Origin:       ident.Provider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ident.Email != "" {
		email := NormalizeEmail(ident.Email)
		user.Email = &email
	}
	if user.Name == "" {
		user.Name = user.Username
	}
	if err := a.Users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	a.log().Info("created shadow account", "provider", ident.Provider, "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Connect links ident to userID without changing who is logged in.
func (a *AccountResolver) Connect(ctx context.Context, userID int64, ident *ExternalIdentity, tokens ConnectionTokens) (*SocialConnection, error) {
	if a.Connections == nil {
		return nil, errors.New("no connection store configured")
	}
	existing, err := a.Connections.GetConnection(ctx, ident.Provider, ident.Subject)
	switch {
	case err == nil && existing.UserID != userID:
		return nil, ErrIdentityInUse
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}
	conn := &SocialConnection{
		UserID:       userID,
		Provider:     ident.Provider,
		Subject:      ident.Subject,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ConnectedAt:  time.Now().UTC(),
	}
	if err := a.Connections.UpsertConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("saving connection: %w", err)
	}
	a.log().Info("connected provider", "provider", ident.Provider, "user_id", userID)
	return conn, nil
}

func (a *AccountResolver) hasher() *password.Hasher {
	if a.Hasher != nil {
		return a.Hasher
	}
	return password.Default()
}

func (a *AccountResolver) log() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
