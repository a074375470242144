package service

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/models"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrTokenRevoked  = errors.New("refresh token has been revoked")
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrUserNotFound  = errors.New("user not found")
)

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// RefreshTokenStore persists refresh-token records. Get returns
// ErrTokenNotFound when no record exists for jti. MarkRevoked returns
// ErrTokenRevoked when the record was already revoked.
type RefreshTokenStore interface {
	Store(ctx context.Context, data models.RefreshTokenData) error
	Get(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	MarkRevoked(ctx context.Context, jti string, revokedAt time.Time, replacedBy string) error
	RevokeFamily(ctx context.Context, familyID string, revokedAt time.Time) ([]models.RefreshTokenData, error)
}

type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type CredentialVerifier interface {
	Verify(user *models.User, password string) error
}

// ClientInfo is recorded alongside each issued refresh token.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type Session struct {
	Tokens models.TokenPair
	User   *models.AuthUser
}

type SessionService struct {
	signer      *TokenSigner
	users       UserLookup
	tokens      RefreshTokenStore
	revocations RevocationList
	credentials CredentialVerifier
	now         func() time.Time
	logger      *logrus.Logger
}

func NewSessionService(
	signer *TokenSigner,
	users UserLookup,
	tokens RefreshTokenStore,
	revocations RevocationList,
	credentials CredentialVerifier,
	logger *logrus.Logger,
) *SessionService {
	return &SessionService{
		signer:      signer,
		users:       users,
		tokens:      tokens,
		revocations: revocations,
		credentials: credentials,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *SessionService) Login(ctx context.Context, email, password string, client ClientInfo) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.credentials.Verify(user, password); err != nil {
		s.logger.WithField("user_id", user.ID).Info("Login rejected")
		return nil, ErrInvalidCredentials
	}

	return s.Issue(ctx, user, client)
}

// Issue starts a new token family for user: it signs a token pair and
// persists the refresh record.
func (s *SessionService) Issue(ctx context.Context, user *models.User, client ClientInfo) (*Session, error) {
	session, record, err := s.mint(user, uuid.New().String(), client)
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, record); err != nil {
		return nil, err
	}
	return session, nil
}

// mint signs a token pair within familyID without persisting anything.
func (s *SessionService) mint(user *models.User, familyID string, client ClientInfo) (*Session, models.RefreshTokenData, error) {
	access, err := s.signer.SignAccess(AccessPayload{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
	})
	if err != nil {
		return nil, models.RefreshTokenData{}, err
	}

	refresh, err := s.signer.SignRefresh(user.ID)
	if err != nil {
		return nil, models.RefreshTokenData{}, err
	}

	record := models.RefreshTokenData{
		JTI:       refresh.JTI,
		UserID:    user.ID,
		TokenHash: hashToken(refresh.Token),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		CreatedAt: s.now(),
		ExpiresAt: refresh.ExpiresAt,
		FamilyID:  familyID,
	}

	session := &Session{
		Tokens: models.TokenPair{
			AccessToken:           access.Token,
			AccessTokenExpiresAt:  access.ExpiresAt,
			RefreshToken:          refresh.Token,
			RefreshTokenExpiresAt: refresh.ExpiresAt,
			TokenType:             "Bearer",
			ExpiresIn:             s.signer.AccessTTLSeconds(),
		},
		User: user.AuthUser(),
	}
	return session, record, nil
}

func (s *SessionService) store(ctx context.Context, record models.RefreshTokenData) error {
	if err := s.tokens.Store(ctx, record); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   record.UserID,
		"jti":       record.JTI,
		"family_id": record.FamilyID,
	}).Info("Session issued")
	return nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued in the same family. Presenting an already revoked token
// fails and revokes the whole family, including tokens rotated from it.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*Session, error) {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	record, err := s.lookupActive(ctx, claims.ID, refreshToken)
	if errors.Is(err, ErrTokenRevoked) {
		s.revokeFamilyOf(ctx, claims.ID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	session, next, err := s.mint(user, record.FamilyID, client)
	if err != nil {
		return nil, err
	}

	// the old record is revoked first so only one rotation can win
	if err := s.revoke(ctx, record, next.JTI); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			s.revokeFamilyOf(ctx, record.JTI)
		}
		return nil, err
	}

	if err := s.store(ctx, next); err != nil {
		return nil, err
	}
	return session, nil
}

// Logout revokes refreshToken. Unknown or already revoked tokens are not an error.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return err
	}

	record, err := s.lookupActive(ctx, claims.ID, refreshToken)
	if errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.revoke(ctx, record, "")
	if errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	return err
}

func (s *SessionService) lookupActive(ctx context.Context, jti, refreshToken string) (*models.RefreshTokenData, error) {
	revoked, err := s.revocations.IsRevoked(ctx, jti)
	if err != nil {
		s.logger.WithError(err).Warn("Revocation cache unavailable, falling back to token store")
	} else if revoked {
		return nil, ErrTokenRevoked
	}

	record, err := s.tokens.Get(ctx, jti)
	if err != nil {
		return nil, err
	}
	if record.Revoked {
		return nil, ErrTokenRevoked
	}

	expected := []byte(record.TokenHash)
	actual := []byte(hashToken(refreshToken))
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, fmt.Errorf("%w: token does not match stored record", ErrInvalidToken)
	}

	return record, nil
}

// revokeFamilyOf handles reuse of the revoked token jti. Failures are logged;
// the caller already refuses the token.
func (s *SessionService) revokeFamilyOf(ctx context.Context, jti string) {
	record, err := s.tokens.Get(ctx, jti)
	if err != nil {
		s.logger.WithError(err).WithField("jti", jti).Error("Failed to load reused refresh token")
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"jti":       jti,
		"user_id":   record.UserID,
		"family_id": record.FamilyID,
	})
	log.Warn("Revoked refresh token presented")

	if record.FamilyID == "" {
		return
	}

	now := s.now()
	revoked, err := s.tokens.RevokeFamily(ctx, record.FamilyID, now)
	if err != nil {
		log.WithError(err).Error("Failed to revoke token family")
	}
	for _, r := range revoked {
		if err := s.revocations.Revoke(ctx, r.JTI, r.ExpiresAt.Sub(now)); err != nil {
			log.WithError(err).Warn("Failed to cache revocation")
		}
	}
}

func (s *SessionService) revoke(ctx context.Context, record *models.RefreshTokenData, replacedBy string) error {
	now := s.now()
	if err := s.tokens.MarkRevoked(ctx, record.JTI, now, replacedBy); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	if err := s.revocations.Revoke(ctx, record.JTI, record.ExpiresAt.Sub(now)); err != nil {
		// the store is authoritative; the cache only short-circuits lookups
		s.logger.WithError(err).Warn("Failed to cache revocation")
	}
	return nil
}

func hashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
