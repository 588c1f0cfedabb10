package profileauth

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionKeyUserID     = "user_id"
	sessionKeyPendingFmt = "oauth.pending.%s"

	IntentLogin   = "login"
	IntentConnect = "connect"
)

// PendingOAuth is the in-flight authorization attempt for one provider.
// A session holds at most one per provider; starting a new attempt
// overwrites the previous one.
type PendingOAuth struct {
	Provider string
	State    string
	Intent   string
	UserID   int64 // set when Intent is IntentConnect
	IssuedAt time.Time
}

func init() {
	gob.Register(PendingOAuth{})
}

// SessionConfig configures the session cookie and optional API tokens.
type SessionConfig struct {
	CookieName  string
	Lifetime    time.Duration
	IdleTimeout time.Duration
	Secure      bool

	// SameSite defaults to Lax. Strict would drop the cookie on the
	// provider's cross-site redirect back to the OAuth callback.
	SameSite http.SameSite

	// APITokenSecret enables bearer tokens bound to a session. Empty disables them.
	APITokenSecret string
	APITokenTTL    time.Duration
	Issuer         string

	// PendingTTL bounds how long an OAuth attempt may stay pending.
	PendingTTL time.Duration
}

func (c *SessionConfig) EnsureDefaults() *SessionConfig {
	if c.CookieName == "" {
		c.CookieName = "profileauth_session"
	}
	if c.Lifetime <= 0 {
		c.Lifetime = 24 * time.Hour
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	if c.APITokenTTL <= 0 {
		c.APITokenTTL = 15 * time.Minute
	}
	if c.Issuer == "" {
		c.Issuer = "profileauth"
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = TokenExpiryOAuthState
	}
	return c
}

// SessionManager owns the server-side session: who is logged in, and any
// pending OAuth attempts. HTTP handlers must run behind Sessions.LoadAndSave.
type SessionManager struct {
	Sessions *scs.SessionManager
	Users    UserStore
	Config   SessionConfig
	Logger   *slog.Logger
}

// NewSessionManager builds the scs manager. A nil store keeps scs's
// in-memory default.
func NewSessionManager(store scs.Store, users UserStore, cfg SessionConfig) *SessionManager {
	cfg.EnsureDefaults()
	sm := scs.New()
	if store != nil {
		sm.Store = store
	}
	sm.Lifetime = cfg.Lifetime
	sm.IdleTimeout = cfg.IdleTimeout
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = cfg.SameSite
	sm.Cookie.Secure = cfg.Secure
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("session store failure", "path", r.URL.Path, "error", err)
		WriteError(w, err)
	}
	return &SessionManager{Sessions: sm, Users: users, Config: cfg, Logger: slog.Default()}
}

// Login starts a fresh session for user. The token is renewed first so a
// session id planted before login is never promoted, and the session is
// committed to the store before Login returns.
func (s *SessionManager) Login(ctx context.Context, user *User) error {
	if err := s.Sessions.RenewToken(ctx); err != nil {
		return fmt.Errorf("%w: renewing session token: %v", ErrStorage, err)
	}
	s.Sessions.Put(ctx, sessionKeyUserID, user.ID)
	if _, _, err := s.Sessions.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing session: %v", ErrStorage, err)
	}
	s.log().Info("session started", "user_id", user.ID)
	return nil
}

// CurrentUser resolves the request's session cookie, or a bearer API token,
// to a user. It returns ErrNotAuthenticated for anonymous requests.
func (s *SessionManager) CurrentUser(r *http.Request) (*User, error) {
	ctx := r.Context()
	if user := UserFromContext(ctx); user != nil {
		return user, nil
	}
	userID := s.Sessions.GetInt64(ctx, sessionKeyUserID)
	if userID == 0 {
		if bearer := bearerToken(r); bearer != "" {
			return s.AuthenticateToken(ctx, bearer)
		}
		return nil, ErrNotAuthenticated
	}
	return s.loadUser(ctx, userID)
}

// SessionUserID returns the id of the user logged into the request's
// session, or 0. It never touches the store.
func (s *SessionManager) SessionUserID(ctx context.Context) int64 {
	return s.Sessions.GetInt64(ctx, sessionKeyUserID)
}

// Logout destroys the session and expires the cookie. It succeeds when
// there is no session.
func (s *SessionManager) Logout(ctx context.Context) error {
	userID := s.Sessions.GetInt64(ctx, sessionKeyUserID)
	if err := s.Sessions.Destroy(ctx); err != nil {
		return fmt.Errorf("%w: destroying session: %v", ErrStorage, err)
	}
	if userID != 0 {
		s.log().Info("session ended", "user_id", userID)
	}
	return nil
}

// BeginOAuth records p in the slot for p.Provider, replacing any earlier attempt.
func (s *SessionManager) BeginOAuth(ctx context.Context, p PendingOAuth) {
	s.Sessions.Put(ctx, fmt.Sprintf(sessionKeyPendingFmt, p.Provider), p)
}

// TakeState removes and returns the pending attempt for provider. The slot
// is cleared and the session committed before returning, whether or not the
// caller's state matches. A nil result means there was no live attempt.
//
// scs stores have no compare-and-swap, so two callbacks racing on the same
// session can both read the attempt before either commits. Each still has
// to present the state and a fresh code, and the provider redeems a code
// only once.
func (s *SessionManager) TakeState(ctx context.Context, provider string) (*PendingOAuth, error) {
	v := s.Sessions.Pop(ctx, fmt.Sprintf(sessionKeyPendingFmt, provider))
	if v == nil {
		return nil, nil
	}
	if _, _, err := s.Sessions.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: committing session: %v", ErrStorage, err)
	}
	p, ok := v.(PendingOAuth)
	if !ok || p.Provider != provider {
		return nil, nil
	}
	if time.Since(p.IssuedAt) > s.Config.PendingTTL {
		return nil, nil
	}
	return &p, nil
}

type apiClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueAPIToken signs a bearer token bound to the current session, so it
// stops working as soon as the session is destroyed. It returns "" when API
// tokens are disabled.
func (s *SessionManager) IssueAPIToken(ctx context.Context, user *User) (string, error) {
	if s.Config.APITokenSecret == "" {
		return "", nil
	}
	sid := s.Sessions.Token(ctx)
	if sid == "" {
		return "", errors.New("no committed session to bind token to")
	}
	return s.signAPIToken(sid, user)
}

// AuthenticateToken verifies a bearer token and returns its user if the
// bound session still exists and still belongs to that user.
func (s *SessionManager) AuthenticateToken(ctx context.Context, tokenString string) (*User, error) {
	user, _, err := s.verifyAPIToken(ctx, tokenString)
	return user, err
}

// RenewAPIToken exchanges a valid bearer token for a fresh one bound to the
// same session.
func (s *SessionManager) RenewAPIToken(ctx context.Context, tokenString string) (string, error) {
	user, sid, err := s.verifyAPIToken(ctx, tokenString)
	if err != nil {
		return "", err
	}
	return s.signAPIToken(sid, user)
}

// RevokeAPIToken destroys the session a bearer token is bound to. Tokens
// that no longer verify are ignored.
func (s *SessionManager) RevokeAPIToken(ctx context.Context, tokenString string) error {
	user, sid, err := s.verifyAPIToken(ctx, tokenString)
	if errors.Is(err, ErrNotAuthenticated) {
		return nil
	}
	if err != nil {
		return err
	}
	if cs, ok := s.Sessions.Store.(scs.CtxStore); ok {
		err = cs.DeleteCtx(ctx, sid)
	} else {
		err = s.Sessions.Store.Delete(sid)
	}
	if err != nil {
		return fmt.Errorf("%w: deleting session: %v", ErrStorage, err)
	}
	s.log().Info("session ended", "user_id", user.ID, "via", "api_token")
	return nil
}

func (s *SessionManager) signAPIToken(sid string, user *User) (string, error) {
	now := time.Now()
	claims := apiClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.Config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Config.APITokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Config.APITokenSecret))
}

func (s *SessionManager) verifyAPIToken(ctx context.Context, tokenString string) (*User, string, error) {
	if s.Config.APITokenSecret == "" {
		return nil, "", ErrNotAuthenticated
	}
	var claims apiClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Config.APITokenSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.Config.Issuer))
	if err != nil {
		s.log().Debug("rejected api token", "error", err)
		return nil, "", ErrNotAuthenticated
	}

	values, found, err := s.findSession(ctx, claims.SessionID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: loading session: %v", ErrStorage, err)
	}
	if !found {
		return nil, "", ErrNotAuthenticated
	}
	userID, _ := values[sessionKeyUserID].(int64)
	if userID == 0 || strconv.FormatInt(userID, 10) != claims.Subject {
		return nil, "", ErrNotAuthenticated
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return user, claims.SessionID, nil
}

// findSession reads a session straight from the store. scs.Load cannot be
// used here because it returns the request's own session when one is
// already loaded into ctx.
func (s *SessionManager) findSession(ctx context.Context, token string) (map[string]any, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	var (
		b     []byte
		found bool
		err   error
	)
	if cs, ok := s.Sessions.Store.(scs.CtxStore); ok {
		b, found, err = cs.FindCtx(ctx, token)
	} else {
		b, found, err = s.Sessions.Store.Find(token)
	}
	if err != nil || !found {
		return nil, false, err
	}
	deadline, values, err := s.Sessions.Codec.Decode(b)
	if err != nil {
		return nil, false, err
	}
	if time.Now().After(deadline) {
		return nil, false, nil
	}
	return values, true, nil
}

func (s *SessionManager) loadUser(ctx context.Context, userID int64) (*User, error) {
	user, err := s.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	return user, err
}

func (s *SessionManager) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
