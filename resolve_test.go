package profileauth_test

import (
	"context"
	"errors"
	"testing"

	pa "github.com/panyam/profileauth"
)

func TestDeriveUsername(t *testing.T) {
	tests := []struct{ prefix, subject, want string }{
		{"gh", "583231", "gh.583231"},
		{"gg", "10769150350006150715", "gg.10769150350006150715"},
		{"dc", "AbC", "dc.abc"},
	}
	for _, tt := range tests {
		if got := pa.DeriveUsername(tt.prefix, tt.subject); got != tt.want {
			t.Errorf("DeriveUsername(%q, %q) = %q, want %q", tt.prefix, tt.subject, got, tt.want)
		}
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tests := []struct {
		name  string
		ident pa.ExternalIdentity
	}{
		{"with email", pa.ExternalIdentity{Provider: "google", Subject: "111", Email: "kim@example.com", Name: "Kim"}},
		{"without email", pa.ExternalIdentity{Provider: "github", Subject: "222", Name: "Lee"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, created, err := env.resolver.Resolve(ctx, &tt.ident)
			if err != nil || !created {
				t.Fatalf("first resolution: created=%v err=%v", created, err)
			}
			second, created, err := env.resolver.Resolve(ctx, &tt.ident)
			if err != nil || created {
				t.Fatalf("second resolution: created=%v err=%v", created, err)
			}
			if first.ID != second.ID {
				t.Errorf("resolved to different users: %d and %d", first.ID, second.ID)
			}
			if first.Origin != tt.ident.Provider {
				t.Errorf("shadow account origin = %q", first.Origin)
			}
		})
	}
}

func TestResolveShadowAccountHasNoUsablePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _, err := env.resolver.Resolve(ctx, &pa.ExternalIdentity{Provider: "github", Subject: "333", Name: "Max", AvatarURL: "https://avatars.example/333"})
	if err != nil {
		t.Fatal(err)
	}
	if user.Username != "gh.333" || user.Name != "Max" || user.AvatarURL == "" {
		t.Errorf("unexpected shadow account %+v", user)
	}
	for _, guess := range []string{"", "password", user.PasswordHash} {
		if _, err := env.creds.VerifyCredentials(ctx, "gh.333", guess); !errors.Is(err, pa.ErrWrongPassword) {
			t.Errorf("password %q: expected ErrWrongPassword, got %v", guess, err)
		}
	}
}

func TestResolveMatchesExistingEmailWithoutOverwriting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.creds.Register(ctx, pa.Registration{Username: "alice", Password: "S3cret!", Name: "Alice", Email: strPtr("alice@x.com")})

	got, created, err := env.resolver.Resolve(ctx, &pa.ExternalIdentity{Provider: "google", Subject: "444", Email: "Alice@x.com", Name: "Someone Else"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != alice.ID || created {
		t.Fatalf("expected existing alice (%d), got %d created=%v", alice.ID, got.ID, created)
	}
	stored, _ := env.store.GetUserByID(ctx, alice.ID)
	if stored.Name != "Alice" || stored.PasswordHash != alice.PasswordHash {
		t.Error("resolution modified the existing account")
	}
	if _, err := env.creds.VerifyCredentials(ctx, "alice", "S3cret!"); err != nil {
		t.Errorf("password login broken after oauth match: %v", err)
	}
}

func TestResolveRefusesUnrelatedDerivedUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// A record occupying the derived name but not created by github.
	squatter := &pa.User{Username: "gh.555", PasswordHash: "x", Name: "Squatter", Origin: "google"}
	if err := env.store.CreateUser(ctx, squatter); err != nil {
		t.Fatal(err)
	}
	_, _, err := env.resolver.Resolve(ctx, &pa.ExternalIdentity{Provider: "github", Subject: "555"})
	if !errors.Is(err, pa.ErrUsernameConflict) {
		t.Errorf("expected ErrUsernameConflict, got %v", err)
	}
}

func TestConnectLinksWithoutSwitchingUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.creds.Register(ctx, pa.Registration{Username: "alice", Password: "S3cret!", Name: "Alice"})
	bob, _ := env.creds.Register(ctx, pa.Registration{Username: "bob", Password: "S3cret!", Name: "Bob"})
	ident := &pa.ExternalIdentity{Provider: "github", Subject: "666", Email: "other@example.com"}

	conn, err := env.resolver.Connect(ctx, alice.ID, ident, pa.ConnectionTokens{AccessToken: "at1"})
	if err != nil {
		t.Fatal(err)
	}
	if conn.UserID != alice.ID {
		t.Errorf("connection attached to %d", conn.UserID)
	}
	// Reconnecting refreshes the token.
	if _, err := env.resolver.Connect(ctx, alice.ID, ident, pa.ConnectionTokens{AccessToken: "at2"}); err != nil {
		t.Fatal(err)
	}
	conns, _ := env.store.ListConnections(ctx, alice.ID)
	if len(conns) != 1 || conns[0].AccessToken != "at2" {
		t.Errorf("unexpected connections %+v", conns)
	}

	if _, err := env.resolver.Connect(ctx, bob.ID, ident, pa.ConnectionTokens{AccessToken: "x"}); !errors.Is(err, pa.ErrIdentityInUse) {
		t.Errorf("expected ErrIdentityInUse, got %v", err)
	}

	// A later login with the connected identity lands on alice, not on a
	// new shadow account.
	user, _, err := env.resolver.Resolve(ctx, ident)
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != alice.ID {
		t.Errorf("login via connected identity resolved to %d", user.ID)
	}
}

func TestDiscardRemovesShadowAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := &pa.ExternalIdentity{Provider: "github", Subject: "777", Email: "nia@example.com"}
	user, created, err := env.resolver.Resolve(ctx, ident)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	env.resolver.Discard(ctx, user)
	if _, err := env.store.GetUserByUsername(ctx, "gh.777"); !errors.Is(err, pa.ErrNotFound) {
		t.Errorf("shadow account survived discard: %v", err)
	}
	// The next attempt starts clean.
	if _, created, err := env.resolver.Resolve(ctx, ident); err != nil || !created {
		t.Errorf("re-resolution: created=%v err=%v", created, err)
	}
}
