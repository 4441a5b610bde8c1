package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ta "github.com/panyam/trackauth"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Verifier validates bearer tokens, usually a *trackauth.SessionTokenIssuer.
	Verifier ta.SessionVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of full method names ("/package.Service/Method")
	// that don't require auth.
	PublicMethods map[string]bool
}

// NewInterceptorConfig returns a config that requires auth for all methods
// except publicMethods.
func NewInterceptorConfig(verifier ta.SessionVerifier, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verifier ta.SessionVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Verifier:      verifier,
		RequireAuth:   false,
		PublicMethods: make(map[string]bool),
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies the
// bearer token in the authorization metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = ensureConfig(config)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that verifies the
// bearer token in the authorization metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = ensureConfig(config)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

// ensureConfig treats a nil config as "require auth, verify nothing", which
// rejects every call.
func ensureConfig(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		return &InterceptorConfig{RequireAuth: true}
	}
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
	return config
}

// authStream overrides the stream context with the authenticated one.
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]

	userID, err := extractUserID(ctx, config)
	if err != nil {
		if required {
			if errors.Is(err, ta.ErrExpiredToken) {
				return nil, status.Error(codes.Unauthenticated, "token expired")
			}
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return ta.ContextWithUserID(ctx, userID), nil
}

// extractUserID verifies the bearer token from the incoming metadata.
func extractUserID(ctx context.Context, config *InterceptorConfig) (string, error) {
	if config.Verifier == nil {
		return "", ta.ErrInvalidToken
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ta.ErrInvalidToken
	}
	values := md.Get(MetadataKeyAuthorization)
	if len(values) == 0 {
		return "", ta.ErrInvalidToken
	}
	token, ok := ta.BearerToken(values[0])
	if !ok {
		return "", ta.ErrInvalidToken
	}
	return config.Verifier.Verify(token)
}
