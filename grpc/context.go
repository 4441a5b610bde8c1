// Package grpc guards gRPC services with the same bearer session tokens the
// HTTP API issues, and propagates the authenticated user id to downstream
// services through metadata.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	ta "github.com/panyam/trackauth"
)

// Metadata keys
const (
	// MetadataKeyAuthorization carries "Bearer <token>" from clients.
	MetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyUserID carries an already authenticated user id
	// between trusted services.
	DefaultMetadataKeyUserID = "x-user-id"
)

// UserIDFromContext returns the user id the auth interceptor attached, or ""
// when the call was not authenticated.
func UserIDFromContext(ctx context.Context) string {
	return ta.UserIDFromContext(ctx)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// BearerToOutgoingContext attaches a session token to outgoing calls.
func BearerToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyAuthorization, "Bearer "+token)
}

// UserIDToOutgoingContext forwards the authenticated user id to a trusted
// downstream service.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, userID)
}

// TrustedUserIDFromIncoming reads a forwarded user id. Only meaningful on
// services reachable exclusively from trusted peers.
func TrustedUserIDFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(DefaultMetadataKeyUserID); len(values) > 0 {
		return values[0]
	}
	return ""
}
