package profileauth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// LocalAuth serves the username/password endpoints.
type LocalAuth struct {
	Credentials *CredentialStore
	Sessions    *SessionManager
	Connections ConnectionStore // optional, listed by HandleMe
	Metrics     *Metrics
	Logger      *slog.Logger
}

type registerRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Email    *string `json:"email,omitempty"`
}

type loginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResponse struct {
	User     *User  `json:"user"`
	APIToken string `json:"token,omitempty"`
}

// HandleRegister serves POST /api/register.
//
//	201 {"user": {...}, "token": "..."} and a session cookie
//	400 validation failure
//	409 username or email taken
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	user, err := a.Credentials.Register(r.Context(), Registration{
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
		Email:    req.Email,
	})
	if err != nil {
		a.fail(w, r, "register", err)
		return
	}
	a.startSession(w, r, user, http.StatusCreated)
}

// HandleLogin serves POST /api/login. The identifier may be sent as
// "username" or "email"; either is tried as both.
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		WriteError(w, missingField("username"))
		return
	}
	if req.Password == "" {
		WriteError(w, missingField("password"))
		return
	}

	user, err := a.Credentials.VerifyCredentials(r.Context(), identifier, req.Password)
	if err != nil {
		a.Metrics.Login("password", "rejected")
		a.fail(w, r, "login", err)
		return
	}
	a.Metrics.Login("password", "success")
	a.startSession(w, r, user, http.StatusOK)
}

// HandleChangePassword serves POST /api/change-password. Mount behind
// SessionManager.RequireUser.
func (a *LocalAuth) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		WriteError(w, ErrNotAuthenticated)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.CurrentPassword == "" {
		WriteError(w, missingField("currentPassword"))
		return
	}
	if req.NewPassword == "" {
		WriteError(w, missingField("newPassword"))
		return
	}
	if err := a.Credentials.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.fail(w, r, "change_password", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password updated",
	})
}

// HandleLogout serves POST /api/logout. A bearer token, when present, has
// its bound session destroyed too.
func (a *LocalAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if bearer := bearerToken(r); bearer != "" {
		if err := a.Sessions.RevokeAPIToken(r.Context(), bearer); err != nil {
			a.fail(w, r, "logout", err)
			return
		}
	}
	if err := a.Sessions.Logout(r.Context()); err != nil {
		a.fail(w, r, "logout", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleToken serves POST /api/token. Mount behind
// SessionManager.RequireUser. A bearer caller gets a renewed token for the
// same session; a cookie caller gets a token bound to its session.
//
//	200 {"token": "...", "expiresIn": 900}
//	404 API tokens are disabled
func (a *LocalAuth) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)
	if user == nil {
		WriteError(w, ErrNotAuthenticated)
		return
	}
	var (
		token string
		err   error
	)
	if bearer := bearerToken(r); bearer != "" && a.Sessions.SessionUserID(ctx) == 0 {
		token, err = a.Sessions.RenewAPIToken(ctx, bearer)
	} else {
		token, err = a.Sessions.IssueAPIToken(ctx, user)
	}
	if err != nil {
		a.fail(w, r, "token", err)
		return
	}
	if token == "" {
		WriteJSON(w, http.StatusNotFound, &AuthError{Code: ErrCodeTokensDisabled, Message: "API tokens are not enabled"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresIn": int64(a.Sessions.Config.APITokenTTL / time.Second),
	})
}

// HandleMe serves GET /api/me. Mount behind SessionManager.RequireUser.
func (a *LocalAuth) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		WriteError(w, ErrNotAuthenticated)
		return
	}
	resp := map[string]any{"user": user, "connections": []*SocialConnection{}}
	if a.Connections != nil {
		conns, err := a.Connections.ListConnections(r.Context(), user.ID)
		if err != nil {
			a.fail(w, r, "me", err)
			return
		}
		if conns != nil {
			resp["connections"] = conns
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (a *LocalAuth) startSession(w http.ResponseWriter, r *http.Request, user *User, status int) {
	ctx := r.Context()
	if err := a.Sessions.Login(ctx, user); err != nil {
		a.fail(w, r, "session", err)
		return
	}
	token, err := a.Sessions.IssueAPIToken(ctx, user)
	if err != nil {
		a.log().Warn("issuing api token", "user_id", user.ID, "error", err)
	}
	WriteJSON(w, status, authResponse{User: user, APIToken: token})
}

// fail logs unexpected errors with detail and writes the client-safe form.
func (a *LocalAuth) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ae := ErrorFor(err)
	if ae.Status >= http.StatusInternalServerError {
		a.log().Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	} else if !errors.As(err, new(*AuthError)) {
		a.log().Info("request rejected", "op", op, "code", ae.Code)
	}
	WriteJSON(w, ae.Status, ae)
}

func (a *LocalAuth) log() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
