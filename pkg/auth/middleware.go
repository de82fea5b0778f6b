package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"auraaudit/pkg/httpx"
	"auraaudit/shared/logging"
)

// SessionCookie carries the access token for clients that cannot set headers, such as
// browser EventSource connections. It is only honored on GET requests to the
// configured cookie paths.
const SessionCookie = "__session"

// Middleware authenticates every request except the configured bypass paths.
type Middleware struct {
	jwt         *JWTManager
	bypassPaths map[string]bool
	cookiePaths map[string]bool
	logger      *zap.Logger
}

type MiddlewareConfig struct {
	JWTManager  *JWTManager
	BypassPaths []string
	// CookiePaths accept SessionCookie in place of a Bearer header, for GET only.
	CookiePaths []string
	Logger      *zap.Logger
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

func NewMiddleware(config MiddlewareConfig) *Middleware {
	return &Middleware{
		jwt:         config.JWTManager,
		bypassPaths: pathSet(config.BypassPaths),
		cookiePaths: pathSet(config.CookiePaths),
		logger:      logging.OrNop(config.Logger),
	}
}

// Authenticate validates the access token and stores its claims in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.bypassPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := m.tokenFromRequest(r)
		if !ok {
			unauthorized(w, "missing or malformed credentials")
			return
		}

		claims, err := m.jwt.ValidateToken(r.Context(), token)
		if err != nil {
			m.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) tokenFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if r.Method != http.MethodGet || !m.cookiePaths[r.URL.Path] {
		return "", false
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func unauthorized(w http.ResponseWriter, message string) {
	httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, message)
}

type contextKey string

const ClaimsContextKey contextKey = "claims"

// GetClaimsFromContext returns the claims stored by Authenticate, or nil.
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}

// UserIDFromContext returns the authenticated user ID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims := GetClaimsFromContext(ctx)
	if claims == nil || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// WithClaims attaches claims to ctx the way Authenticate does.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}
