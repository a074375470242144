package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/storefront/authsession/internal/models"
	"github.com/storefront/authsession/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(jti string) models.RefreshTokenData {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.RefreshTokenData{
		JTI:       jti,
		UserID:    "user-1",
		TokenHash: "abc123",
		IP:        "10.0.0.1",
		CreatedAt: created,
		ExpiresAt: created.Add(7 * 24 * time.Hour),
		FamilyID:  "family-1",
	}
}

func TestRefreshTokenRepository_StoreAndGet(t *testing.T) {
	db := newFakeDynamo()
	repo := NewRefreshTokenRepository(db, "AuthSessionTable", testLogger())
	ctx := context.Background()

	rec := sampleRecord("jti-1")
	require.NoError(t, repo.Store(ctx, rec))

	stored := db.items["REFRESH_TOKEN#jti-1|METADATA"]
	require.NotNil(t, stored)
	assert.Equal(t, "1704672000", stored["TTL"].(*types.AttributeValueMemberN).Value)

	got, err := repo.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, rec.UserID, got.UserID)
	assert.Equal(t, rec.TokenHash, got.TokenHash)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	assert.False(t, got.Revoked)
	assert.True(t, *db.lastGet.ConsistentRead)
}

func TestRefreshTokenRepository_StoreRefusesDuplicateJTI(t *testing.T) {
	repo := NewRefreshTokenRepository(newFakeDynamo(), "AuthSessionTable", testLogger())
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, sampleRecord("jti-1")))
	assert.Error(t, repo.Store(ctx, sampleRecord("jti-1")))
}

func TestRefreshTokenRepository_GetMissing(t *testing.T) {
	repo := NewRefreshTokenRepository(newFakeDynamo(), "AuthSessionTable", testLogger())

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, service.ErrTokenNotFound)
}

func TestRefreshTokenRepository_MarkRevoked(t *testing.T) {
	repo := NewRefreshTokenRepository(newFakeDynamo(), "AuthSessionTable", testLogger())
	ctx := context.Background()
	revokedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Store(ctx, sampleRecord("jti-1")))
	require.NoError(t, repo.MarkRevoked(ctx, "jti-1", revokedAt, "jti-2"))

	got, err := repo.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, revokedAt.Equal(*got.RevokedAt))
	assert.Equal(t, "jti-2", got.ReplacedBy)
}

func TestRefreshTokenRepository_MarkRevokedMissing(t *testing.T) {
	repo := NewRefreshTokenRepository(newFakeDynamo(), "AuthSessionTable", testLogger())

	err := repo.MarkRevoked(context.Background(), "nope", time.Now(), "")
	assert.ErrorIs(t, err, service.ErrTokenNotFound)
}

func TestRefreshTokenRepository_BackendError(t *testing.T) {
	db := newFakeDynamo()
	db.err = errors.New("throttled")
	repo := NewRefreshTokenRepository(db, "AuthSessionTable", testLogger())
	ctx := context.Background()

	assert.Error(t, repo.Store(ctx, sampleRecord("jti-1")))
	_, err := repo.Get(ctx, "jti-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, service.ErrTokenNotFound)
	err = repo.MarkRevoked(ctx, "jti-1", time.Now(), "")
	assert.NotErrorIs(t, err, service.ErrTokenNotFound)
}

func TestRefreshTokenRepository_MarkRevokedOnlyOnce(t *testing.T) {
	repo := NewRefreshTokenRepository(newFakeDynamo(), "AuthSessionTable", testLogger())
	ctx := context.Background()
	revokedAt := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Store(ctx, sampleRecord("old")))
	require.NoError(t, repo.MarkRevoked(ctx, "old", revokedAt, "new-a"))

	err := repo.MarkRevoked(ctx, "old", revokedAt.Add(time.Second), "new-b")
	assert.ErrorIs(t, err, service.ErrTokenRevoked)

	got, err := repo.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "new-a", got.ReplacedBy)
	assert.True(t, revokedAt.Equal(*got.RevokedAt))
}

func TestRefreshTokenRepository_RevokeFamily(t *testing.T) {
	repo := NewRefreshTokenRepository(newFakeDynamo(), "AuthSessionTable", testLogger())
	ctx := context.Background()
	revokedAt := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Store(ctx, sampleRecord("a")))
	require.NoError(t, repo.Store(ctx, sampleRecord("b")))
	other := sampleRecord("c")
	other.FamilyID = "family-2"
	require.NoError(t, repo.Store(ctx, other))
	require.NoError(t, repo.MarkRevoked(ctx, "a", revokedAt, "b"))

	revoked, err := repo.RevokeFamily(ctx, "family-1", revokedAt)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, "b", revoked[0].JTI)

	b, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, b.Revoked)

	c, err := repo.Get(ctx, "c")
	require.NoError(t, err)
	assert.False(t, c.Revoked)
}
