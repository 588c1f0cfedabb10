package grpc

import (
	"context"
	"errors"
	"log/slog"

	pa "github.com/panyam/profileauth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	*Config

	Authenticator Authenticator

	// RequireAuth rejects calls without a valid token. When false, calls
	// proceed and UserFromContext returns nil.
	RequireAuth bool

	// PublicMethods never require auth. Keys are full method names like
	// "/package.Service/Method".
	PublicMethods map[string]bool

	Logger *slog.Logger
}

// NewInterceptorConfig requires auth for every method except publicMethods.
func NewInterceptorConfig(auth Authenticator, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Authenticator: auth,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig attaches the user when a valid token is present but
// lets anonymous calls through.
func OptionalAuthConfig(auth Authenticator) *InterceptorConfig {
	config := NewInterceptorConfig(auth)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if c == nil {
		c = NewInterceptorConfig(nil)
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// UnaryAuthInterceptor authenticates the bearer token in the call metadata
// and attaches the user to the handler's context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is UnaryAuthInterceptor for streaming calls.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]

	token := tokenFromIncoming(ctx, config.MetadataKey)
	if token == "" || config.Authenticator == nil {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}

	user, err := config.Authenticator.AuthenticateToken(ctx, token)
	switch {
	case err == nil:
		return pa.WithUser(ctx, user), nil
	case errors.Is(err, pa.ErrNotAuthenticated):
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	default:
		config.Logger.Error("authenticating grpc call", "method", method, "error", err)
		return nil, status.Error(codes.Unavailable, "authentication temporarily unavailable")
	}
}
