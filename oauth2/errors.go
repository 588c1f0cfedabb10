package oauth2

import (
	"fmt"
)

// Error codes carried in the ?error= parameter of a failed callback.
const (
	CodeNotConfigured       = "provider_not_configured"
	CodeProviderDenied      = "provider_denied"
	CodeInvalidState        = "invalid_state"
	CodeMissingCode         = "missing_code"
	CodeTokenExchange       = "token_exchange_failed"
	CodeProfileFetch        = "profile_fetch_failed"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeAccountConflict     = "account_conflict"
	CodeIdentityInUse       = "identity_in_use"
	CodeNotAuthenticated    = "not_authenticated"
	CodeResolution          = "resolution_failed"
	CodeSessionError        = "session_error"
)

// FlowError is a failed OAuth attempt. Code and Message are shown to the
// browser; Err is for the server log only.
type FlowError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowError(code string, err error) *FlowError {
	fe := &FlowError{Code: code, Err: err}
	switch code {
	case CodeNotConfigured:
		fe.Message = "This sign-in provider is not available"
	case CodeProviderDenied:
		fe.Message = "Sign-in was cancelled or denied by the provider"
	case CodeInvalidState:
		fe.Message = "Your sign-in attempt expired or was tampered with, please try again"
	case CodeMissingCode, CodeTokenExchange:
		fe.Message = "Could not complete sign-in with the provider"
	case CodeProfileFetch:
		fe.Message = "Could not read your profile from the provider"
	case CodeUpstreamTimeout, CodeUpstreamUnavailable:
		fe.Message = "The provider is not responding, please try again later"
		fe.Retryable = true
	case CodeAccountConflict:
		fe.Message = "This identity cannot be matched to an account automatically"
	case CodeIdentityInUse:
		fe.Message = "This identity is already connected to another account"
	case CodeNotAuthenticated:
		fe.Message = "Please sign in before connecting another provider"
	default:
		fe.Message = "Something went wrong, please try again later"
		fe.Retryable = true
	}
	return fe
}
