package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/models"
	"github.com/storefront/authsession/internal/service"
)

type contextKey string

// AccessTokenCookie is read by OptionalAuth for browser navigations.
const AccessTokenCookie = "auth.accessToken"

const (
	claimsKey contextKey = "claims"
	userKey   contextKey = "user"
)

type AccessVerifier interface {
	VerifyAccess(token string) (*models.AccessTokenClaims, error)
}

type AuthMiddleware struct {
	verifier AccessVerifier
	users    service.UserLookup
	logger   *logrus.Logger
}

func NewAuthMiddleware(verifier AccessVerifier, users service.UserLookup, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		users:    users,
		logger:   logger,
	}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, "Missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondUnauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.verifier.VerifyAccess(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondUnauthorized(w, "Invalid or expired token")
			return
		}

		user, err := m.users.GetByID(r.Context(), claims.Subject)
		if err != nil {
			m.logger.WithError(err).Error("Failed to load user for request")
			m.respondError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load user")
			return
		}
		if user == nil {
			m.respondUnauthorized(w, "Unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = WithUser(ctx, user.AuthUser())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the user when the request carries a valid access token
// in the Authorization header or the access-token cookie, and never rejects.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(AccessTokenCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.verifier.VerifyAccess(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.users.GetByID(r.Context(), claims.Subject)
		if err != nil || user == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(WithUser(ctx, user.AuthUser())))
	})
}

func bearerToken(r *http.Request) string {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// WithUser attaches user to ctx. RequireAuth does this for verified requests.
func WithUser(ctx context.Context, user *models.AuthUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// GetUser returns the user attached to an authenticated request, or nil.
// It does not check anything itself; routes must sit behind RequireAuth.
func GetUser(ctx context.Context) *models.AuthUser {
	user, _ := ctx.Value(userKey).(*models.AuthUser)
	return user
}

func GetClaims(ctx context.Context) *models.AccessTokenClaims {
	claims, _ := ctx.Value(claimsKey).(*models.AccessTokenClaims)
	return claims
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, message string) {
	m.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
