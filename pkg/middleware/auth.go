package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/contextkeys"
	"github.com/agrinova/authd/pkg/observability"
)

// SessionCookie carries the access token for cookie-strategy clients
const SessionCookie = "authd_session"

// PrincipalResolver maps a bearer token to the principal it belongs to
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (*auth.Principal, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	resolver PrincipalResolver
	optional bool // If true, allow requests without auth
	logger   *observability.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver PrincipalResolver, optional bool, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		optional: optional,
		logger:   observability.OrNop(logger).WithComponent("auth_middleware"),
	}
}

// Handler wraps an HTTP handler with authentication. The bearer token is
// read from the Authorization header, or from the session cookie when the
// header is absent.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, message := bearerToken(r)
		if token == "" && message == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "missing authorization header")
			return
		}
		if message != "" {
			unauthorizedResponse(w, message)
			return
		}

		principal, err := m.resolver.ResolvePrincipal(r.Context(), token)
		if err != nil || principal == nil {
			m.logger.WithField("request_id", contextkeys.GetRequestID(r.Context())).
				WithError(err).Debug("bearer token rejected")
			unauthorizedResponse(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithToken(ctx, token)
		ctx = contextkeys.WithUserID(ctx, principal.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken returns the request's token, or a rejection message for a
// malformed Authorization header. Both are empty when no credential is sent.
func bearerToken(r *http.Request) (string, string) {
	// Format: "Bearer <token>"
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
			return c.Value, ""
		}
		return "", ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "invalid or expired token"
	}
	return token, ""
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// GetPrincipal extracts the authenticated principal from request
func GetPrincipal(r *http.Request) *auth.Principal {
	return PrincipalFromContext(r.Context())
}

// PrincipalFromContext extracts the authenticated principal from ctx
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return p
}
