package client

import (
	"net/http"
)

// refreshTransport adds the bearer token and, on a 401, renews the token
// and retries once.
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.client.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(withBearer(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	c := t.client
	c.mu.Lock()
	cred, _ := c.store.GetCredential(c.serverURL)
	var renewed *ServerCredential
	if cred != nil && cred.AccessToken == token {
		renewed, _ = c.renewLocked(ctx, cred)
	}
	c.mu.Unlock()
	if renewed == nil {
		return resp, nil
	}

	retry := withBearer(req, renewed.AccessToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	resp.Body.Close()
	return t.base.RoundTrip(retry)
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}
