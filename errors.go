package profileauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateUsername    = errors.New("username already exists")
	ErrDuplicateEmail       = errors.New("email already exists")
	ErrUnknownIdentifier    = errors.New("unknown username or email")
	ErrWrongPassword        = errors.New("wrong password")
	ErrWrongCurrentPassword = errors.New("current password is incorrect")
	ErrPasswordTooShort     = errors.New("password too short")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrInvalidResetToken    = errors.New("invalid or expired token")
	ErrEmailDelivery        = errors.New("email delivery failed")
	ErrStorage              = errors.New("storage failure")
	ErrIdentityInUse        = errors.New("external identity is connected to another account")
	ErrUsernameConflict     = errors.New("derived username belongs to an unrelated account")
	ErrPasswordHashChanged  = errors.New("password hash changed since it was read")

	// ErrProviderNotConfigured is returned for providers that are unknown
	// or have no client credentials.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Error codes returned to clients in the "code" field.
const (
	ErrCodeMissingField      = "missing_field"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeInvalidUsername   = "invalid_username"
	ErrCodeInvalidEmail      = "invalid_email"
	ErrCodeWeakPassword      = "weak_password"
	ErrCodeUsernameTaken     = "username_taken"
	ErrCodeEmailExists       = "email_exists"
	ErrCodeInvalidCreds      = "invalid_credentials"
	ErrCodeWrongPassword     = "wrong_current_password"
	ErrCodeNotAuthenticated  = "not_authenticated"
	ErrCodeInvalidResetToken = "invalid_token"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeNotConfigured     = "provider_not_configured"
	ErrCodeTokensDisabled    = "api_tokens_disabled"
	ErrCodeServerError       = "server_error"
)

// AuthError is an error that is safe to show to the caller.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthError creates a validation error (400).
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field, Status: http.StatusBadRequest}
}

// ErrorFor maps any error returned by this package onto the AuthError that
// should be sent to the client. Unknown errors become a generic 500 so that
// internal details never leak.
func ErrorFor(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		out := *ae
		if out.Status == 0 {
			out.Status = http.StatusBadRequest
		}
		return &out
	}
	switch {
	case errors.Is(err, ErrDuplicateUsername):
		return &AuthError{Code: ErrCodeUsernameTaken, Message: "Username is already taken", Field: "username", Status: http.StatusConflict}
	case errors.Is(err, ErrDuplicateEmail):
		return &AuthError{Code: ErrCodeEmailExists, Message: "Email is already registered", Field: "email", Status: http.StatusConflict}
	case errors.Is(err, ErrUnknownIdentifier), errors.Is(err, ErrWrongPassword):
		return &AuthError{Code: ErrCodeInvalidCreds, Message: "Invalid credentials", Status: http.StatusUnauthorized}
	case errors.Is(err, ErrWrongCurrentPassword):
		return &AuthError{Code: ErrCodeWrongPassword, Message: "Current password is incorrect", Field: "currentPassword", Status: http.StatusUnauthorized}
	case errors.Is(err, ErrPasswordTooShort):
		return &AuthError{Code: ErrCodeWeakPassword, Message: "Password is too short", Field: "newPassword", Status: http.StatusBadRequest}
	case errors.Is(err, ErrNotAuthenticated):
		return &AuthError{Code: ErrCodeNotAuthenticated, Message: "Authentication required", Status: http.StatusUnauthorized}
	case errors.Is(err, ErrProviderNotConfigured):
		return &AuthError{Code: ErrCodeNotConfigured, Message: "This sign-in provider is not available", Status: http.StatusBadRequest}
	case errors.Is(err, ErrInvalidResetToken):
		return &AuthError{Code: ErrCodeInvalidResetToken, Message: "Invalid or expired token", Status: http.StatusBadRequest}
	default:
		return &AuthError{Code: ErrCodeServerError, Message: "Something went wrong, please try again later", Status: http.StatusInternalServerError}
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes the client-safe form of err.
func WriteError(w http.ResponseWriter, err error) {
	ae := ErrorFor(err)
	WriteJSON(w, ae.Status, ae)
}
