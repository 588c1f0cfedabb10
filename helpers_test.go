package profileauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	pa "github.com/panyam/profileauth"
	"github.com/panyam/profileauth/password"
	"github.com/panyam/profileauth/stores/fs"
)

// recordingMailer captures reset tokens instead of sending them.
type recordingMailer struct {
	mu     sync.Mutex
	tokens map[string][]string
	err    error
}

func (m *recordingMailer) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.tokens == nil {
		m.tokens = map[string][]string{}
	}
	m.tokens[to] = append(m.tokens[to], token)
	return nil
}

func (m *recordingMailer) last(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	toks := m.tokens[to]
	if len(toks) == 0 {
		return ""
	}
	return toks[len(toks)-1]
}

type testEnv struct {
	store    *fs.Store
	hasher   *password.Hasher
	creds    *pa.CredentialStore
	sessions *pa.SessionManager
	resolver *pa.AccountResolver
	resets   *pa.PasswordResets
	mailer   *recordingMailer
	server   *httptest.Server
}

func testHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.New(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	env := &testEnv{store: store, hasher: testHasher(t), mailer: &recordingMailer{}}
	env.creds = pa.NewCredentialStore(store, env.hasher, pa.Policy{})
	env.sessions = pa.NewSessionManager(nil, store, pa.SessionConfig{APITokenSecret: "test-secret"})
	env.resolver = &pa.AccountResolver{
		Users:       store,
		Connections: store,
		Hasher:      env.hasher,
		Prefixes:    map[string]string{"github": "gh", "google": "gg"},
	}
	env.resets = &pa.PasswordResets{Users: store, Tokens: store, Hasher: env.hasher, Email: env.mailer}

	local := &pa.LocalAuth{Credentials: env.creds, Sessions: env.sessions, Connections: store}
	resets := &pa.ResetHandlers{Resets: env.resets}

	r := mux.NewRouter()
	r.HandleFunc("/api/register", local.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", local.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", local.HandleLogout).Methods(http.MethodPost)
	r.Handle("/api/change-password", env.sessions.RequireUser(http.HandlerFunc(local.HandleChangePassword))).Methods(http.MethodPost)
	r.Handle("/api/me", env.sessions.RequireUser(http.HandlerFunc(local.HandleMe))).Methods(http.MethodGet)
	r.Handle("/api/token", env.sessions.RequireUser(http.HandlerFunc(local.HandleToken))).Methods(http.MethodPost)
	r.HandleFunc("/api/forgot-password", resets.HandleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/api/verify-reset-token/{token}", resets.HandleVerifyResetToken).Methods(http.MethodGet)
	r.HandleFunc("/api/reset-password", resets.HandleResetPassword).Methods(http.MethodPost)

	env.server = httptest.NewServer(env.sessions.Sessions.LoadAndSave(r))
	t.Cleanup(env.server.Close)
	return env
}

// client returns an HTTP client with its own cookie jar, i.e. one browser.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, c *http.Client, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func strPtr(s string) *string { return &s }

// sessionCtx returns a context holding a fresh, empty session.
func sessionCtx(t *testing.T, sm *pa.SessionManager) context.Context {
	t.Helper()
	ctx, err := sm.Sessions.Load(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}
