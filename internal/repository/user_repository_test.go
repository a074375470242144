package repository

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/storefront/authsession/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, db *fakeDynamo, u models.User) {
	t.Helper()
	item, err := attributevalue.MarshalMap(u)
	require.NoError(t, err)
	item["PK"] = &types.AttributeValueMemberS{Value: u.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: u.GetSK()}
	db.items[itemKey(item)] = item
}

func TestUserRepository_GetByID(t *testing.T) {
	db := newFakeDynamo()
	seedUser(t, db, models.User{ID: "u1", Email: "a@test.com", Role: models.RoleManager, FirstName: "Ada"})
	repo := NewUserRepository(db, "AuthSessionTable", testLogger())

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "a@test.com", user.Email)
	assert.Equal(t, models.RoleManager, user.Role)
	assert.Equal(t, "Ada", user.FirstName)

	missing, err := repo.GetByID(context.Background(), "u2")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserRepository_GetByIDFillsIDFromKey(t *testing.T) {
	db := newFakeDynamo()
	seedUser(t, db, models.User{ID: "u1", Email: "a@test.com"})
	delete(db.items["USER!u1|METADATA"], "id")
	repo := NewUserRepository(db, "AuthSessionTable", testLogger())

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestUserRepository_GetByEmailNormalizes(t *testing.T) {
	db := newFakeDynamo()
	seedUser(t, db, models.User{ID: "u1", Email: "a@test.com"})
	repo := NewUserRepository(db, "AuthSessionTable", testLogger())

	user, err := repo.GetByEmail(context.Background(), "  A@Test.com ")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)

	missing, err := repo.GetByEmail(context.Background(), "b@test.com")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserRepository_Roles(t *testing.T) {
	db := newFakeDynamo()
	seedUser(t, db, models.User{ID: "u1", Email: "a@test.com"})
	seedUser(t, db, models.User{ID: "u2", Email: "b@test.com", Role: models.Role("ROOT")})
	repo := NewUserRepository(db, "AuthSessionTable", testLogger())

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)

	_, err = repo.GetByID(context.Background(), "u2")
	assert.Error(t, err)
}
