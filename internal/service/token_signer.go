package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/config"
	"github.com/storefront/authsession/internal/duration"
	"github.com/storefront/authsession/internal/models"
)

var (
	// ErrSigningConfiguration means a secret needed to sign or verify is not configured.
	ErrSigningConfiguration = errors.New("signing configuration error")
	ErrInvalidToken         = errors.New("invalid token")
	ErrWrongTokenType       = errors.New("wrong token type")
)

var signingMethod = jwt.SigningMethodHS512

// TokenSigner issues and verifies access and refresh tokens.
type TokenSigner struct {
	cfg    config.JWTConfig
	now    func() time.Time
	logger *logrus.Logger
}

type SignerOption func(*TokenSigner)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SignerOption {
	return func(s *TokenSigner) {
		s.now = now
	}
}

func NewTokenSigner(cfg *config.JWTConfig, logger *logrus.Logger, opts ...SignerOption) *TokenSigner {
	s := &TokenSigner{
		cfg:    *cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type AccessPayload struct {
	Sub   string
	Email string
	Role  models.Role
}

func (s *TokenSigner) SignAccess(payload AccessPayload) (*models.SignedToken[models.AccessTokenClaims], error) {
	if s.cfg.AccessSecret == "" {
		return nil, fmt.Errorf("%w: JWT_ACCESS_SECRET is not set", ErrSigningConfiguration)
	}

	ttl, err := resolveTTL(s.cfg.AccessTTL, config.DefaultAccessTTL)
	if err != nil {
		return nil, fmt.Errorf("access token ttl: %w", err)
	}

	role := payload.Role.OrDefault()
	if !role.Valid() {
		return nil, fmt.Errorf("%w %q", models.ErrUnknownRole, role)
	}

	now := s.now()
	claims := &models.AccessTokenClaims{
		Email:            payload.Email,
		Role:             role,
		Type:             models.TokenTypeAccess,
		RegisteredClaims: s.registeredClaims(payload.Sub, now, ttl),
	}

	token, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &models.SignedToken[models.AccessTokenClaims]{
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (s *TokenSigner) SignRefresh(userID string) (*models.SignedToken[models.RefreshTokenClaims], error) {
	if s.cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%w: JWT_REFRESH_SECRET is not set", ErrSigningConfiguration)
	}

	ttl, err := resolveTTL(s.cfg.RefreshTTL, config.DefaultRefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("refresh token ttl: %w", err)
	}

	now := s.now()
	jti := uuid.New().String()

	registered := s.registeredClaims(userID, now, ttl)
	registered.ID = jti

	claims := &models.RefreshTokenClaims{
		Type:             models.TokenTypeRefresh,
		RegisteredClaims: registered,
	}

	token, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.SignedToken[models.RefreshTokenClaims]{
		Token:     token,
		ExpiresAt: now.Add(ttl),
		JTI:       jti,
	}, nil
}

// AccessTTLSeconds is the expires_in value reported to clients.
func (s *TokenSigner) AccessTTLSeconds() int64 {
	ttl, err := resolveTTL(s.cfg.AccessTTL, config.DefaultAccessTTL)
	if err != nil {
		return 0
	}
	return int64(ttl / time.Second)
}

func (s *TokenSigner) VerifyAccess(tokenString string) (*models.AccessTokenClaims, error) {
	claims := &models.AccessTokenClaims{}
	if err := s.verify(tokenString, s.cfg.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (s *TokenSigner) VerifyRefresh(tokenString string) (*models.RefreshTokenClaims, error) {
	claims := &models.RefreshTokenClaims{}
	if err := s.verify(tokenString, s.cfg.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	return claims, nil
}

func (s *TokenSigner) verify(tokenString, secret string, claims jwt.Claims) error {
	if secret == "" {
		return fmt.Errorf("%w: verification secret is not set", ErrSigningConfiguration)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (s *TokenSigner) registeredClaims(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.cfg.Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl.Truncate(time.Second))),
	}
	if s.cfg.Audience != "" {
		rc.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}
	return rc
}

func resolveTTL(value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	return duration.ParseDuration(value)
}
