// Package server assembles the profileauth HTTP surface: routes, session
// loading, CORS, rate limiting, request logging and metrics.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pa "github.com/panyam/profileauth"
	"github.com/panyam/profileauth/oauth2"
)

// Options are the handlers and policies NewRouter wires together.
// Flow and Limiter are optional.
type Options struct {
	Sessions *pa.SessionManager
	Local    *pa.LocalAuth
	Resets   *pa.ResetHandlers
	Flow     *oauth2.Flow

	// Limiter guards the credential endpoints.
	Limiter *RateLimiter

	CORSOrigins []string

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewRouter returns the complete handler. Middleware order, outermost
// first: recovery, CORS, session load/save, request logging.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := func(h http.HandlerFunc) http.Handler {
		if opts.Limiter == nil {
			return h
		}
		return opts.Limiter.Middleware(h)
	}
	authed := opts.Sessions.RequireUser

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.Handle("/register", limit(opts.Local.HandleRegister)).Methods(http.MethodPost)
	api.Handle("/login", limit(opts.Local.HandleLogin)).Methods(http.MethodPost)
	api.HandleFunc("/logout", opts.Local.HandleLogout).Methods(http.MethodPost)
	api.Handle("/change-password", authed(limit(opts.Local.HandleChangePassword))).Methods(http.MethodPost)
	api.Handle("/me", authed(http.HandlerFunc(opts.Local.HandleMe))).Methods(http.MethodGet)
	api.Handle("/token", authed(http.HandlerFunc(opts.Local.HandleToken))).Methods(http.MethodPost)

	api.Handle("/forgot-password", limit(opts.Resets.HandleForgotPassword)).Methods(http.MethodPost)
	api.HandleFunc("/verify-reset-token/{token}", opts.Resets.HandleVerifyResetToken).Methods(http.MethodGet)
	api.Handle("/reset-password", limit(opts.Resets.HandleResetPassword)).Methods(http.MethodPost)

	if opts.Flow != nil {
		api.HandleFunc("/auth/{provider}", opts.Flow.HandleStart).Methods(http.MethodGet)
		api.HandleFunc("/auth/{provider}/callback", opts.Flow.HandleCallback).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pa.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pa.WriteJSON(w, http.StatusNotFound, &pa.AuthError{Code: "not_found", Message: "Not found"})
	})

	var h http.Handler = r
	h = LoggingMiddleware(logger, opts.Sessions)(h)
	h = opts.Sessions.Sessions.LoadAndSave(h)
	if len(opts.CORSOrigins) > 0 {
		h = cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", RequestIDHeader},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		})(h)
	}
	return RecoveryMiddleware(logger)(h)
}
