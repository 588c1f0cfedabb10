package profileauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pa "github.com/panyam/profileauth"
)

func TestTakeStateIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := sessionCtx(t, env.sessions)

	env.sessions.BeginOAuth(ctx, pa.PendingOAuth{Provider: "github", State: "s1", Intent: pa.IntentLogin, IssuedAt: time.Now()})

	p, err := env.sessions.TakeState(ctx, "github")
	if err != nil || p == nil {
		t.Fatalf("expected pending attempt, got %v, %v", p, err)
	}
	if p.State != "s1" || p.Intent != pa.IntentLogin {
		t.Errorf("unexpected pending attempt %+v", p)
	}

	p, err = env.sessions.TakeState(ctx, "github")
	if err != nil || p != nil {
		t.Errorf("second take must find nothing, got %+v, %v", p, err)
	}
}

func TestPendingSlotsArePerProviderAndOverwritten(t *testing.T) {
	env := newTestEnv(t)
	ctx := sessionCtx(t, env.sessions)

	env.sessions.BeginOAuth(ctx, pa.PendingOAuth{Provider: "github", State: "first", IssuedAt: time.Now()})
	env.sessions.BeginOAuth(ctx, pa.PendingOAuth{Provider: "github", State: "second", IssuedAt: time.Now()})
	env.sessions.BeginOAuth(ctx, pa.PendingOAuth{Provider: "google", State: "g", IssuedAt: time.Now()})

	p, _ := env.sessions.TakeState(ctx, "github")
	if p == nil || p.State != "second" {
		t.Errorf("expected latest github attempt, got %+v", p)
	}
	p, _ = env.sessions.TakeState(ctx, "google")
	if p == nil || p.State != "g" {
		t.Errorf("google attempt disturbed: %+v", p)
	}
}

func TestStalePendingAttemptIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := sessionCtx(t, env.sessions)
	env.sessions.BeginOAuth(ctx, pa.PendingOAuth{Provider: "github", State: "old", IssuedAt: time.Now().Add(-time.Hour)})

	if p, _ := env.sessions.TakeState(ctx, "github"); p != nil {
		t.Errorf("expired attempt accepted: %+v", p)
	}
}

func TestLoginRenewsSessionToken(t *testing.T) {
	env := newTestEnv(t)
	user, err := env.creds.Register(context.Background(), pa.Registration{Username: "hank", Password: "S3cret!", Name: "Hank"})
	if err != nil {
		t.Fatal(err)
	}

	ctx := sessionCtx(t, env.sessions)
	env.sessions.Sessions.Put(ctx, "visited", true)
	before, _, err := env.sessions.Sessions.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := env.sessions.Login(ctx, user); err != nil {
		t.Fatal(err)
	}
	after := env.sessions.Sessions.Token(ctx)
	if after == "" || after == before {
		t.Errorf("session token not renewed: before=%q after=%q", before, after)
	}
}

func TestCurrentUserAnonymous(t *testing.T) {
	env := newTestEnv(t)
	var gotErr error
	h := env.sessions.Sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotErr = env.sessions.CurrentUser(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "profileauth_session", Value: "no-such-session"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !errors.Is(gotErr, pa.ErrNotAuthenticated) {
		t.Errorf("unknown cookie: expected ErrNotAuthenticated, got %v", gotErr)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !errors.Is(gotErr, pa.ErrNotAuthenticated) {
		t.Errorf("garbage bearer: expected ErrNotAuthenticated, got %v", gotErr)
	}
}

func TestAPITokenRequiresMatchingSecret(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.creds.Register(context.Background(), pa.Registration{Username: "ivy", Password: "S3cret!", Name: "Ivy"})
	ctx := sessionCtx(t, env.sessions)
	if err := env.sessions.Login(ctx, user); err != nil {
		t.Fatal(err)
	}
	token, err := env.sessions.IssueAPIToken(ctx, user)
	if err != nil || token == "" {
		t.Fatalf("issue: %q, %v", token, err)
	}

	got, err := env.sessions.AuthenticateToken(context.Background(), token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authenticate: %v, %v", got, err)
	}

	other := pa.NewSessionManager(env.sessions.Sessions.Store, env.store, pa.SessionConfig{APITokenSecret: "different"})
	if _, err := other.AuthenticateToken(context.Background(), token); !errors.Is(err, pa.ErrNotAuthenticated) {
		t.Errorf("token verified with wrong secret: %v", err)
	}
}
