package oauth2

import (
	"context"
	"fmt"
	"net/http"

	pa "github.com/panyam/profileauth"
	"golang.org/x/oauth2/github"
)

// Github returns the GitHub provider without credentials. The profile
// endpoint does not say whether its email is verified, so the address is
// taken from the emails endpoint instead.
func Github() *Provider {
	return &Provider{
		Name:           "github",
		UsernamePrefix: "gh",
		Endpoint:       github.Endpoint,
		ProfileURL:     "https://api.github.com/user",
		Scopes:         []string{"read:user", "user:email"},
		Normalize:      NormalizeGithub,
		Enrich:         GithubEmails("https://api.github.com/user/emails"),
	}
}

// NormalizeGithub reads a /user document. The display name falls back to
// the login.
func NormalizeGithub(profile map[string]any) (*pa.ExternalIdentity, error) {
	ident := &pa.ExternalIdentity{
		Subject:   stringField(profile, "id"),
		Name:      cleanText(stringField(profile, "name")),
		AvatarURL: cleanURL(stringField(profile, "avatar_url")),
	}
	if ident.Subject == "" {
		return nil, errMissingSubject
	}
	if ident.Name == "" {
		ident.Name = cleanText(stringField(profile, "login"))
	}
	return ident, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GithubEmails returns an EnrichFunc that sets the primary verified address
// listed at url.
func GithubEmails(url string) EnrichFunc {
	return func(ctx context.Context, client *http.Client, ident *pa.ExternalIdentity) error {
		var emails []githubEmail
		if err := getJSON(ctx, client, url, &emails); err != nil {
			return fmt.Errorf("fetching github emails: %w", err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				ident.Email = cleanEmail(e.Email)
				break
			}
		}
		return nil
	}
}
