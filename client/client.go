package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pa "github.com/panyam/profileauth"
)

// RefreshThreshold is how long before expiry a token is renewed.
const RefreshThreshold = 2 * time.Minute

// ErrTokensDisabled is returned by Login when the server does not issue
// API tokens.
var ErrTokensDisabled = errors.New("server does not issue API tokens")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("profileauth: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("profileauth: HTTP %d", e.StatusCode)
}

// AuthClient talks to one profileauth server and attaches the stored
// bearer token to every request made through HTTPClient.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

type ClientOption func(*AuthClient)

// WithHTTPClient copies timeout and redirect settings from client. Its
// transport, if any, becomes the base transport.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
	}
}

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient returns a client for serverURL. Only the scheme and host
// of serverURL are kept.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = u.Scheme + "://" + u.Host
	}
	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &refreshTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns a client that authenticates as the logged-in user.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn reports whether an unexpired token is stored.
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	return err == nil && cred != nil && !cred.IsExpired()
}

// GetToken returns the current token, renewing it first when it is close
// to expiry. It returns "" when not logged in.
func (c *AuthClient) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return "", err
	}
	if cred.IsExpiringSoon(RefreshThreshold) {
		renewed, err := c.renewLocked(ctx, cred)
		if err != nil {
			// Still valid for a little while; renewal is retried next call.
			return cred.AccessToken, nil
		}
		cred = renewed
	}
	return cred.AccessToken, nil
}

// Login signs in with a username, or an email when identifier contains
// "@", and stores the returned token.
func (c *AuthClient) Login(ctx context.Context, identifier, password string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := map[string]string{"password": password}
	if strings.Contains(identifier, "@") {
		body["email"] = identifier
	} else {
		body["username"] = identifier
	}
	var resp struct {
		User  *pa.User `json:"user"`
		Token string   `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/login", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, ErrTokensDisabled
	}
	cred, err := newCredential(resp.Token)
	if err != nil {
		return nil, err
	}
	if resp.User != nil {
		cred.UserID = resp.User.ID
		cred.Username = resp.User.Username
	}
	return cred, c.storeLocked(cred)
}

// Me returns the logged-in user.
func (c *AuthClient) Me(ctx context.Context) (*pa.User, error) {
	token, err := c.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, pa.ErrNotAuthenticated
	}
	var resp struct {
		User *pa.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/me", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Logout ends the server session bound to the token and forgets it
// locally. The local credential is removed even if the server call fails.
func (c *AuthClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var callErr error
	if cred, _ := c.store.GetCredential(c.serverURL); cred != nil && !cred.IsExpired() {
		callErr = c.call(ctx, http.MethodPost, "/api/logout", cred.AccessToken, nil, nil)
	}
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return callErr
}

// renewLocked exchanges cred for a fresh token. Caller must hold c.mu.
func (c *AuthClient) renewLocked(ctx context.Context, cred *ServerCredential) (*ServerCredential, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/token", cred.AccessToken, nil, &resp); err != nil {
		return nil, err
	}
	renewed, err := newCredential(resp.Token)
	if err != nil {
		return nil, err
	}
	renewed.UserID = cred.UserID
	renewed.Username = cred.Username
	return renewed, c.storeLocked(renewed)
}

func (c *AuthClient) storeLocked(cred *ServerCredential) error {
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// call sends a JSON request on the base transport, bypassing the refresh
// transport so it can be used while c.mu is held.
func (c *AuthClient) call(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := (&http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var ae pa.AuthError
		if json.Unmarshal(raw, &ae) == nil {
			apiErr.Code, apiErr.Message = ae.Code, ae.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// newCredential reads the expiry from the token. The signature is the
// server's to check; the client only needs the timestamps.
func newCredential(token string) (*ServerCredential, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("malformed token from server: %w", err)
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("token from server has no expiry")
	}
	return &ServerCredential{
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt.Time,
		CreatedAt:   time.Now(),
	}, nil
}
