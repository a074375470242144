package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/models"
	"github.com/storefront/authsession/internal/service"
)

const familyIndexName = "FamilyIndex"

type RefreshTokenRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewRefreshTokenRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func refreshTokenKey(jti string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("REFRESH_TOKEN#%s", jti)},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Store writes the refresh-token record; DynamoDB expires it through the TTL attribute.
func (r *RefreshTokenRepository) Store(ctx context.Context, tokenData models.RefreshTokenData) error {
	item, err := attributevalue.MarshalMap(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	for k, v := range refreshTokenKey(tokenData.JTI) {
		item[k] = v
	}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", tokenData.ExpiresAt.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store refresh token in DynamoDB")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (r *RefreshTokenRepository) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            refreshTokenKey(jti),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if result.Item == nil {
		return nil, service.ErrTokenNotFound
	}

	var tokenData models.RefreshTokenData
	if err := attributevalue.UnmarshalMap(result.Item, &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

// MarkRevoked flags the record as revoked. replacedBy names the token that
// superseded it during rotation and is empty on logout. The update only
// applies to a record that is not yet revoked, so of two concurrent
// rotations of the same token exactly one succeeds; the other gets
// service.ErrTokenRevoked.
func (r *RefreshTokenRepository) MarkRevoked(ctx context.Context, jti string, revokedAt time.Time, replacedBy string) error {
	updateExpression := "SET #revoked = :revoked, #revoked_at = :revoked_at"
	names := map[string]string{
		"#revoked":    "Revoked",
		"#revoked_at": "RevokedAt",
	}
	values := map[string]types.AttributeValue{
		":revoked":     &types.AttributeValueMemberBOOL{Value: true},
		":not_revoked": &types.AttributeValueMemberBOOL{Value: false},
		":revoked_at":  &types.AttributeValueMemberS{Value: revokedAt.Format(time.RFC3339Nano)},
	}
	if replacedBy != "" {
		updateExpression += ", #replaced_by = :replaced_by"
		names["#replaced_by"] = "ReplacedBy"
		values[":replaced_by"] = &types.AttributeValueMemberS{Value: replacedBy}
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.tableName),
		Key:                                 refreshTokenKey(jti),
		UpdateExpression:                    aws.String(updateExpression),
		ConditionExpression:                 aws.String(revokeCondition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// the old item comes back only when the record exists
			if len(ccf.Item) > 0 {
				return service.ErrTokenRevoked
			}
			return service.ErrTokenNotFound
		}
		r.logger.WithError(err).WithField("jti", jti).Error("Failed to revoke refresh token")
		return fmt.Errorf("failed to mark token as revoked: %w", err)
	}

	return nil
}

const revokeCondition = "attribute_exists(PK) AND (attribute_not_exists(#revoked) OR #revoked = :not_revoked)"

// RevokeFamily revokes every still-active record of a token family and
// returns the records it revoked. Records are found through the FamilyIndex GSI.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string, revokedAt time.Time) ([]models.RefreshTokenData, error) {
	var revoked []models.RefreshTokenData
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(familyIndexName),
			KeyConditionExpression: aws.String("FamilyID = :family"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":family": &types.AttributeValueMemberS{Value: familyID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			r.logger.WithError(err).WithField("family_id", familyID).Error("Failed to query token family")
			return revoked, fmt.Errorf("failed to query token family: %w", err)
		}

		for _, item := range result.Items {
			var tokenData models.RefreshTokenData
			if err := attributevalue.UnmarshalMap(item, &tokenData); err != nil {
				return revoked, fmt.Errorf("failed to unmarshal token data: %w", err)
			}
			if tokenData.Revoked {
				continue
			}

			err := r.MarkRevoked(ctx, tokenData.JTI, revokedAt, "")
			if errors.Is(err, service.ErrTokenRevoked) || errors.Is(err, service.ErrTokenNotFound) {
				continue
			}
			if err != nil {
				return revoked, err
			}
			revoked = append(revoked, tokenData)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	r.logger.WithFields(logrus.Fields{
		"family_id": familyID,
		"revoked":   len(revoked),
	}).Warn("Refresh token family revoked")

	return revoked, nil
}
