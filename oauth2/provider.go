// Package oauth2 drives the authorization-code flow against external
// identity providers and hands the resulting identity to account resolution.
//
// Providers are data: endpoints, scopes and a normalizer. Adding one never
// touches the Flow.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	pa "github.com/panyam/profileauth"
	"golang.org/x/oauth2"
)

// NormalizeFunc turns a raw profile document into an ExternalIdentity.
// It must fail when the provider's subject id is missing.
type NormalizeFunc func(profile map[string]any) (*pa.ExternalIdentity, error)

// EnrichFunc fills in identity fields that need a second provider call.
// client already carries the access token.
type EnrichFunc func(ctx context.Context, client *http.Client, ident *pa.ExternalIdentity) error

// Provider describes one identity provider.
type Provider struct {
	Name           string
	UsernamePrefix string
	Endpoint       oauth2.Endpoint
	ProfileURL     string
	Scopes         []string

	ClientID     string
	ClientSecret string

	Normalize NormalizeFunc
	Enrich    EnrichFunc // optional
}

// Configured reports whether the provider has client credentials.
func (p *Provider) Configured() bool {
	return p.ClientID != ""
}

func (p *Provider) config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
	}
}

// maxProfileBytes caps how much of a provider response is read.
const maxProfileBytes = 1 << 20

// getJSON fetches url with client and decodes the body into dst. Numbers
// are kept as json.Number so large ids survive.
func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBytes))
		return &statusError{StatusCode: resp.StatusCode}
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type statusError struct {
	StatusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
