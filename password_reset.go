package profileauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const forgotPasswordAck = "If an account exists for that email, a reset link has been sent"

// ResetHandlers serves the password recovery endpoints. None of them
// require a session.
type ResetHandlers struct {
	Resets *PasswordResets
	Logger *slog.Logger

	// MinResponseTime pads every forgot-password answer to at least this
	// long, so mail delivery for known emails does not show in the timing.
	// Zero disables padding.
	MinResponseTime time.Duration
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// HandleForgotPassword serves POST /api/forgot-password. The response is
// the same whether or not the email belongs to an account, and an empty
// email is acknowledged like an unknown one. Storage and delivery failures
// are logged distinctly and answered with a generic 500.
func (h *ResetHandlers) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	var err error
	if req.Email != "" {
		err = h.Resets.RequestReset(r.Context(), req.Email)
	}
	h.pad(r.Context(), start)
	if err != nil {
		h.log().Error("forgot password failed", "error", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": forgotPasswordAck,
	})
}

// HandleVerifyResetToken serves GET /api/verify-reset-token/{token}.
func (h *ResetHandlers) HandleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
	email, ok, err := h.Resets.VerifyToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.log().Error("verifying reset token", "error", err)
		WriteError(w, err)
		return
	}
	if !ok {
		WriteJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"valid": true, "email": email})
}

// HandleResetPassword serves POST /api/reset-password.
func (h *ResetHandlers) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Token == "" {
		WriteError(w, missingField("token"))
		return
	}
	if req.NewPassword == "" {
		WriteError(w, missingField("newPassword"))
		return
	}
	if err := h.Resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		if ae := ErrorFor(err); ae.Status >= http.StatusInternalServerError {
			h.log().Error("reset password failed", "error", err)
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successfully",
	})
}

func (h *ResetHandlers) pad(ctx context.Context, start time.Time) {
	wait := h.MinResponseTime - time.Since(start)
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (h *ResetHandlers) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
