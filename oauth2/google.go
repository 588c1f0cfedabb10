package oauth2

import (
	pa "github.com/panyam/profileauth"
	"golang.org/x/oauth2/google"
)

// Google returns the Google provider without credentials.
func Google() *Provider {
	return &Provider{
		Name:           "google",
		UsernamePrefix: "gg",
		Endpoint:       google.Endpoint,
		ProfileURL:     "https://www.googleapis.com/oauth2/v2/userinfo",
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Normalize: NormalizeGoogle,
	}
}

// NormalizeGoogle reads a userinfo v2 document. The email is used only
// when verified_email is true.
func NormalizeGoogle(profile map[string]any) (*pa.ExternalIdentity, error) {
	ident := &pa.ExternalIdentity{
		Subject:   stringField(profile, "id"),
		Name:      cleanText(stringField(profile, "name")),
		AvatarURL: cleanURL(stringField(profile, "picture")),
	}
	if ident.Subject == "" {
		return nil, errMissingSubject
	}
	if boolField(profile, "verified_email") {
		ident.Email = cleanEmail(stringField(profile, "email"))
	}
	return ident, nil
}
