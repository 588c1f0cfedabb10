package grpc

import (
	"context"
	"testing"

	pa "github.com/panyam/profileauth"
	"google.golang.org/grpc/metadata"
)

func TestEnsureDefaults(t *testing.T) {
	config := &Config{}
	config.EnsureDefaults()
	if config.MetadataKey != DefaultMetadataKey {
		t.Errorf("expected MetadataKey %q, got %q", DefaultMetadataKey, config.MetadataKey)
	}
}

func TestUserIDFromContext_NoUser(t *testing.T) {
	ctx := context.Background()
	if id := UserIDFromContext(ctx); id != 0 {
		t.Errorf("expected no user id, got %d", id)
	}
	if IsAuthenticated(ctx) {
		t.Error("expected IsAuthenticated to be false")
	}
}

func TestUserIDFromContext_WithUser(t *testing.T) {
	ctx := pa.WithUser(context.Background(), &pa.User{ID: 42, Username: "alice"})
	if id := UserIDFromContext(ctx); id != 42 {
		t.Errorf("expected user id 42, got %d", id)
	}
	if user := UserFromContext(ctx); user == nil || user.Username != "alice" {
		t.Errorf("unexpected user %+v", user)
	}
}

func TestTokenToOutgoingContext(t *testing.T) {
	ctx := TokenToOutgoingContext(context.Background(), "abc.def.ghi")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	values := md.Get(DefaultMetadataKey)
	if len(values) != 1 || values[0] != "Bearer abc.def.ghi" {
		t.Errorf("unexpected metadata %v", values)
	}
}

func TestTokenFromIncoming(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"bearer", "Bearer tok", "tok"},
		{"case insensitive scheme", "bearer tok", "tok"},
		{"basic auth ignored", "Basic dXNlcjpwYXNz", ""},
		{"no scheme", "tok", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(DefaultMetadataKey, tt.value))
			if got := tokenFromIncoming(ctx, DefaultMetadataKey); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
	if got := tokenFromIncoming(context.Background(), DefaultMetadataKey); got != "" {
		t.Errorf("expected empty token without metadata, got %q", got)
	}
}
