package profileauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// DefaultMinPasswordLength is used when a Policy leaves MinPasswordLength unset.
const DefaultMinPasswordLength = 6

var (
	// Local usernames never contain '.', which keeps them disjoint from the
	// provider-namespaced usernames produced by DeriveUsername.
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Policy holds the validation rules for credentials.
type Policy struct {
	MinPasswordLength int
}

func (p *Policy) EnsureDefaults() *Policy {
	if p.MinPasswordLength <= 0 {
		p.MinPasswordLength = DefaultMinPasswordLength
	}
	return p
}

// Registration is the input to CredentialStore.Register.
type Registration struct {
	Username string
	Password string
	Name     string
	Email    *string
}

// Validate normalizes the email and checks every field, returning an
// AuthError naming the first offending field.
func (p Policy) Validate(reg *Registration) error {
	if reg.Username == "" {
		return NewAuthError(ErrCodeMissingField, "Username is required", "username")
	}
	if !usernamePattern.MatchString(reg.Username) {
		return NewAuthError(ErrCodeInvalidUsername, "Username must be 3-30 characters and contain only letters, numbers, underscores, and hyphens", "username")
	}
	if strings.TrimSpace(reg.Name) == "" {
		return NewAuthError(ErrCodeMissingField, "Name is required", "name")
	}
	if reg.Email != nil {
		email := NormalizeEmail(*reg.Email)
		if email == "" {
			reg.Email = nil
		} else if !emailPattern.MatchString(email) {
			return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
		} else {
			reg.Email = &email
		}
	}
	if reg.Password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}
	return p.CheckPassword(reg.Password, "password")
}

// CheckPassword enforces the minimum length. field names the request field
// reported back to the client.
func (p Policy) CheckPassword(password, field string) error {
	minLen := p.MinPasswordLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if len(password) < minLen {
		return &AuthError{
			Code:    ErrCodeWeakPassword,
			Message: fmt.Sprintf("Password must be at least %d characters", minLen),
			Field:   field,
			Status:  http.StatusBadRequest,
			Err:     ErrPasswordTooShort,
		}
	}
	return nil
}

// NormalizeEmail lowercases and trims an address. Emails are compared in
// this form everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
