package oauth2

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	pa "github.com/panyam/profileauth"
	"golang.org/x/oauth2"
)

const defaultTimeout = 10 * time.Second

// Flow runs the authorization-code flow for every registered provider.
// Mount HandleStart at /api/auth/{provider} and HandleCallback at
// /api/auth/{provider}/callback, inside the session middleware.
type Flow struct {
	Registry *Registry
	Sessions *pa.SessionManager
	Resolver *pa.AccountResolver

	// HTTPClient is used for token and profile calls. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds the token exchange and profile fetch together.
	Timeout time.Duration

	SuccessURL string
	FailureURL string

	Metrics *pa.Metrics
	Logger  *slog.Logger
}

// HandleStart redirects the browser to the provider. With ?intent=connect
// the caller must already be signed in and the identity will be linked to
// their account instead of signing them in.
func (f *Flow) HandleStart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	p, err := f.Registry.Get(name)
	if err != nil {
		pa.WriteError(w, err)
		return
	}

	pending := pa.PendingOAuth{Provider: name, Intent: pa.IntentLogin, IssuedAt: time.Now()}
	switch intent := r.URL.Query().Get("intent"); intent {
	case "", pa.IntentLogin:
	case pa.IntentConnect:
		user, err := f.Sessions.CurrentUser(r)
		if err != nil {
			pa.WriteError(w, err)
			return
		}
		pending.Intent = pa.IntentConnect
		pending.UserID = user.ID
	default:
		pa.WriteError(w, pa.NewAuthError(pa.ErrCodeBadRequest, "Unknown intent", "intent"))
		return
	}

	pending.State, err = pa.GenerateState()
	if err != nil {
		f.log().Error("generating oauth state", "error", err)
		pa.WriteError(w, err)
		return
	}
	f.Sessions.BeginOAuth(r.Context(), pending)

	authURL := p.config(f.Registry.RedirectURL(name)).AuthCodeURL(pending.State)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the flow. Every outcome is a redirect: to
// SuccessURL on success, to FailureURL with error and message parameters
// otherwise.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	ctx := r.Context()
	q := r.URL.Query()

	// The pending attempt is cleared before anything else so a state value
	// can only ever be compared once.
	pending, err := f.Sessions.TakeState(ctx, name)
	if err != nil {
		f.fail(w, r, name, flowError(CodeSessionError, err))
		return
	}

	p, err := f.Registry.Get(name)
	if err != nil {
		f.fail(w, r, name, flowError(CodeNotConfigured, err))
		return
	}
	if e := q.Get("error"); e != "" {
		f.fail(w, r, name, flowError(CodeProviderDenied, errors.New(e+": "+q.Get("error_description"))))
		return
	}
	state := q.Get("state")
	if pending == nil || state == "" || subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		f.fail(w, r, name, flowError(CodeInvalidState, nil))
		return
	}
	code := q.Get("code")
	if code == "" {
		f.fail(w, r, name, flowError(CodeMissingCode, nil))
		return
	}

	ident, tok, ferr := f.fetchIdentity(ctx, p, code)
	if ferr != nil {
		f.fail(w, r, name, ferr)
		return
	}

	if pending.Intent == pa.IntentConnect {
		f.connect(w, r, pending, ident, tok)
		return
	}

	user, created, err := f.Resolver.Resolve(ctx, ident)
	if err != nil {
		fc := CodeResolution
		if errors.Is(err, pa.ErrUsernameConflict) {
			fc = CodeAccountConflict
		}
		f.fail(w, r, name, flowError(fc, err))
		return
	}
	if err := f.Sessions.Login(ctx, user); err != nil {
		if created {
			f.Resolver.Discard(context.WithoutCancel(ctx), user)
		}
		f.fail(w, r, name, flowError(CodeSessionError, err))
		return
	}
	f.Metrics.Login("oauth:"+name, "success")
	f.Metrics.OAuthCallback(name, "success")
	f.log().Info("oauth login", "provider", name, "user_id", user.ID)
	f.redirect(w, r, f.SuccessURL, url.Values{"login": {"success"}})
}

func (f *Flow) connect(w http.ResponseWriter, r *http.Request, pending *pa.PendingOAuth, ident *pa.ExternalIdentity, tok *oauth2.Token) {
	name := pending.Provider
	user, err := f.Sessions.CurrentUser(r)
	if err != nil || user.ID != pending.UserID {
		f.fail(w, r, name, flowError(CodeNotAuthenticated, err))
		return
	}
	_, err = f.Resolver.Connect(r.Context(), user.ID, ident, pa.ConnectionTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})
	if err != nil {
		fc := CodeResolution
		if errors.Is(err, pa.ErrIdentityInUse) {
			fc = CodeIdentityInUse
		}
		f.fail(w, r, name, flowError(fc, err))
		return
	}
	f.Metrics.OAuthCallback(name, "connected")
	f.log().Info("provider connected", "provider", name, "user_id", user.ID)
	f.redirect(w, r, f.SuccessURL, url.Values{"connected": {name}})
}

// fetchIdentity exchanges code and reads the provider profile, both under
// one deadline.
func (f *Flow) fetchIdentity(ctx context.Context, p *Provider, code string) (*pa.ExternalIdentity, *oauth2.Token, *FlowError) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient())

	cfg := p.config(f.Registry.RedirectURL(p.Name))
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, nil, classify(CodeTokenExchange, err)
	}

	client := cfg.Client(ctx, tok)
	var profile map[string]any
	if err := getJSON(ctx, client, p.ProfileURL, &profile); err != nil {
		return nil, nil, classify(CodeProfileFetch, err)
	}
	ident, err := p.Normalize(profile)
	if err != nil {
		return nil, nil, flowError(CodeProfileFetch, err)
	}
	ident.Provider = p.Name
	if p.Enrich != nil {
		if err := p.Enrich(ctx, client, ident); err != nil {
			return nil, nil, classify(CodeProfileFetch, err)
		}
	}
	return ident, tok, nil
}

// classify separates transient upstream failures from hard ones.
func classify(code string, err error) *FlowError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return flowError(CodeUpstreamTimeout, err)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 500 {
		return flowError(CodeUpstreamUnavailable, err)
	}
	var se *statusError
	if errors.As(err, &se) && se.StatusCode >= 500 {
		return flowError(CodeUpstreamUnavailable, err)
	}
	return flowError(code, err)
}

func (f *Flow) fail(w http.ResponseWriter, r *http.Request, provider string, fe *FlowError) {
	f.Metrics.OAuthCallback(provider, fe.Code)
	level := slog.LevelWarn
	if fe.Retryable {
		level = slog.LevelError
	}
	f.log().Log(r.Context(), level, "oauth callback failed",
		"provider", provider, "code", fe.Code, "error", fe.Err)
	f.redirect(w, r, f.FailureURL, url.Values{"error": {fe.Code}, "message": {fe.Message}})
}

func (f *Flow) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil || target == "" {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (f *Flow) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return defaultTimeout
}

func (f *Flow) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *Flow) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
