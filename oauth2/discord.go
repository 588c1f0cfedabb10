package oauth2

import (
	"fmt"
	"net/url"

	pa "github.com/panyam/profileauth"
	"golang.org/x/oauth2"
)

// Discord returns the Discord provider without credentials.
func Discord() *Provider {
	return &Provider{
		Name:           "discord",
		UsernamePrefix: "dc",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://discord.com/oauth2/authorize",
			TokenURL:  "https://discord.com/api/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		ProfileURL: "https://discord.com/api/users/@me",
		Scopes:     []string{"identify", "email"},
		Normalize:  NormalizeDiscord,
	}
}

// NormalizeDiscord reads a users/@me document. The avatar field is a hash
// that has to be expanded into a CDN URL.
func NormalizeDiscord(profile map[string]any) (*pa.ExternalIdentity, error) {
	ident := &pa.ExternalIdentity{
		Subject: stringField(profile, "id"),
		Name:    cleanText(stringField(profile, "global_name")),
	}
	if ident.Subject == "" {
		return nil, errMissingSubject
	}
	if ident.Name == "" {
		ident.Name = cleanText(stringField(profile, "username"))
	}
	if hash := stringField(profile, "avatar"); hash != "" {
		ident.AvatarURL = cleanURL(fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", url.PathEscape(ident.Subject), url.PathEscape(hash)))
	}
	if boolField(profile, "verified") {
		ident.Email = cleanEmail(stringField(profile, "email"))
	}
	return ident, nil
}
