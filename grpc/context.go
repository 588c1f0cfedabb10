// Package grpc lets sibling gRPC services authenticate calls with the same
// bearer API tokens the HTTP endpoints issue.
package grpc

import (
	"context"
	"strings"

	pa "github.com/panyam/profileauth"
	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKey is the metadata key carrying "Bearer <token>".
const DefaultMetadataKey = "authorization"

// Authenticator resolves a bearer token to a user. *pa.SessionManager
// implements it.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*pa.User, error)
}

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKey defaults to "authorization".
	MetadataKey string
}

func DefaultConfig() *Config {
	return &Config{MetadataKey: DefaultMetadataKey}
}

func (c *Config) EnsureDefaults() {
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKey
	}
}

// UserFromContext returns the user attached by the interceptors, or nil.
func UserFromContext(ctx context.Context) *pa.User {
	return pa.UserFromContext(ctx)
}

// UserIDFromContext returns the authenticated user's id, or 0.
func UserIDFromContext(ctx context.Context) int64 {
	if user := pa.UserFromContext(ctx); user != nil {
		return user.ID
	}
	return 0
}

// IsAuthenticated reports whether the interceptors attached a user.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != 0
}

// TokenToOutgoingContext attaches token to outgoing metadata for a call to
// a service using these interceptors.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKey, "Bearer "+token)
}

// tokenFromIncoming returns the bearer token in the incoming metadata.
func tokenFromIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	scheme, token, found := strings.Cut(values[0], " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
