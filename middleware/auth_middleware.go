package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/services"
	"github.com/dataplane/query-gateway/utils"
)

// Authenticator resolves an opaque bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.PrincipalContext, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	authenticator Authenticator
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(authenticator Authenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing bearer token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		principal, err := m.authenticator.Authenticate(ctx, token)
		if err != nil {
			m.logger.Warn("authentication failed",
				zap.String("request_id", requestID),
				zap.String("kind", string(services.GetErrorType(err))))

			switch services.GetErrorType(err) {
			case services.ErrorTypeCredentialExpired:
				_ = utils.WriteUnauthorized(w, "Credential expired")
			case services.ErrorTypeCredentialTampered:
				_ = utils.WriteUnauthorized(w, "Credential tampered")
			case services.ErrorTypeInternal:
				_ = utils.WriteInternalServerError(w, "")
			default:
				_ = utils.WriteUnauthorized(w, "Invalid credential")
			}
			return
		}

		ctx = WithPrincipal(ctx, principal)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("principal", principal.Principal),
			zap.String("token_prefix", principal.TokenPrefix))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCapability is a middleware that requires the authenticated
// principal to hold a named capability. Must run after RequireAuth.
func (m *AuthMiddleware) RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal := GetPrincipalFromContext(ctx)
			if principal == nil {
				m.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !principal.HasCapability(capability) {
				m.logger.Warn("missing capability",
					zap.String("request_id", requestID),
					zap.String("principal", principal.Principal),
					zap.String("required_capability", capability),
					zap.Strings("held_capabilities", principal.AllowedCapabilities))
				_ = utils.WriteForbidden(w, "Missing required capability: "+capability)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
