package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/middleware"
	"github.com/storefront/authsession/internal/models"
	"github.com/storefront/authsession/internal/service"
)

type SessionManager interface {
	Login(ctx context.Context, email, password string, client service.ClientInfo) (*service.Session, error)
	Refresh(ctx context.Context, refreshToken string, client service.ClientInfo) (*service.Session, error)
	Logout(ctx context.Context, refreshToken string) error
}

type AuthHandlers struct {
	sessions SessionManager
	logger   *logrus.Logger
}

func NewAuthHandlers(sessions SessionManager, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		sessions: sessions,
		logger:   logger,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse mirrors the client-side session snapshot plus the refresh token.
type SessionResponse struct {
	AccessToken          string           `json:"accessToken"`
	AccessTokenExpiresAt string           `json:"accessTokenExpiresAt"`
	RefreshToken         string           `json:"refreshToken"`
	TokenType            string           `json:"tokenType"`
	ExpiresIn            int64            `json:"expiresIn"`
	User                 *models.AuthUser `json:"user"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	session, err := h.sessions.Login(r.Context(), email, req.Password, clientInfo(r))
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue session")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, newSessionResponse(session))
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	session, err := h.sessions.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrTokenRevoked):
		h.respondWithError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		return
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrWrongTokenType),
		errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, service.ErrUserNotFound):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	default:
		h.logger.WithError(err).Error("Failed to refresh session")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, newSessionResponse(session))
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUser(r.Context()) == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	// The refresh token is optional; without it only the client state is dropped.
	var req RefreshTokenRequest
	json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
			h.logger.WithError(err).Warn("Failed to revoke refresh token on logout")
		}
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}
	h.respondWithJSON(w, http.StatusOK, user)
}

func newSessionResponse(s *service.Session) SessionResponse {
	return SessionResponse{
		AccessToken:          s.Tokens.AccessToken,
		AccessTokenExpiresAt: s.Tokens.AccessTokenExpiresAt.UTC().Format(time.RFC3339),
		RefreshToken:         s.Tokens.RefreshToken,
		TokenType:            s.Tokens.TokenType,
		ExpiresIn:            s.Tokens.ExpiresIn,
		User:                 s.User,
	}
}

func clientInfo(r *http.Request) service.ClientInfo {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return service.ClientInfo{
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
