package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessTokenClaims carries the subject in RegisteredClaims.Subject.
type AccessTokenClaims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// RefreshTokenClaims carries the subject and jti in RegisteredClaims.
type RefreshTokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// SignedToken is a compact signed token together with its expiry.
// JTI is only set for refresh tokens.
type SignedToken[C any] struct {
	Token     string
	ExpiresAt time.Time
	JTI       string
}

type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	TokenType             string
	ExpiresIn             int64
}

// RefreshTokenData is the persisted record for an issued refresh token.
// Only a digest of the token itself is stored.
type RefreshTokenData struct {
	JTI        string     `json:"jti" dynamodbav:"JTI"`
	UserID     string     `json:"user_id" dynamodbav:"UserID"`
	TokenHash  string     `json:"token_hash" dynamodbav:"TokenHash"`
	IP         string     `json:"ip,omitempty" dynamodbav:"IP,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty" dynamodbav:"UserAgent,omitempty"`
	CreatedAt  time.Time  `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt  time.Time  `json:"expires_at" dynamodbav:"ExpiresAt"`
	Revoked    bool       `json:"revoked" dynamodbav:"Revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" dynamodbav:"RevokedAt,omitempty"`
	ReplacedBy string     `json:"replaced_by,omitempty" dynamodbav:"ReplacedBy,omitempty"`
	// FamilyID is shared by every token rotated from the same login.
	FamilyID string `json:"family_id" dynamodbav:"FamilyID"`
}
