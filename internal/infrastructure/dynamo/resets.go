package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/domain"
)

// ResetTokenRepo stores password reset tokens. PK: token_id.
type ResetTokenRepo struct {
	client   *dynamodb.Client
	tables   config.DynamoTables
	sessions *SessionRepo
}

func NewResetTokenRepo(client *dynamodb.Client, tables config.DynamoTables) *ResetTokenRepo {
	return &ResetTokenRepo{client: client, tables: tables, sessions: NewSessionRepo(client, tables)}
}

func (r *ResetTokenRepo) Create(ctx context.Context, t *domain.PasswordResetToken) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal reset token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tables.ResetTokens),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(token_id)"),
	})
	if err != nil {
		return txError("create reset token", err)
	}
	return nil
}

func (r *ResetTokenRepo) Get(ctx context.Context, tokenID string) (*domain.PasswordResetToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.ResetTokens),
		Key:            strKey(fieldTokenID, tokenID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	var t domain.PasswordResetToken
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, fmt.Errorf("unmarshal reset token: %w", err)
	}
	return &t, nil
}

// Redeem consumes the token, sets the password and ends the active session.
// A concurrent session change is retried once against fresh user state.
func (r *ResetTokenRepo) Redeem(ctx context.Context, t *domain.PasswordResetToken, passwordHash string, now time.Time) (string, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var ended string
		ended, err = r.redeem(ctx, t, passwordHash, now)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return ended, err
		}
	}
	return "", err
}

func (r *ResetTokenRepo) redeem(ctx context.Context, t *domain.PasswordResetToken, passwordHash string, now time.Time) (string, error) {
	u, err := getUser(ctx, r.client, r.tables.Users, t.UserID)
	if err != nil {
		return "", err
	}
	var sess *domain.Session
	if u.CurrentSessionID != "" {
		sess, err = r.sessions.Get(ctx, u.CurrentSessionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}
	items, err := redeemItems(r.tables, t, u, sess, passwordHash, now)
	if err != nil {
		return "", err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if conditionFailedAt(err, 0) {
		return "", domain.ErrResetTokenInvalid
	}
	if err != nil {
		return "", txError("redeem reset token", err)
	}
	if sess != nil {
		return sess.SessionID, nil
	}
	return "", nil
}

// redeemItems: item 0 consumes the token, item 1 updates the user and any
// further item ends the active session.
func redeemItems(tables config.DynamoTables, t *domain.PasswordResetToken, u *domain.User, sess *domain.Session, passwordHash string, now time.Time) ([]types.TransactWriteItem, error) {
	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(tables.ResetTokens),
			Key:                       strKey(fieldTokenID, t.TokenID),
			UpdateExpression:          aws.String("SET #ca = :now"),
			ConditionExpression:       aws.String("attribute_exists(token_id) AND attribute_not_exists(#ca)"),
			ExpressionAttributeNames:  map[string]string{"#ca": fieldConsumedAt},
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": mustMarshal(now)},
		},
	}}

	if u.CurrentSessionID == "" {
		ue, err := buildUpdateExpr(map[string]interface{}{
			fieldPasswordHash: passwordHash,
			fieldUpdatedAt:    now,
		})
		if err != nil {
			return nil, err
		}
		ue.bumpVersion()
		ue.Names["#cur"] = fieldCurrentSessionID
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(tables.Users),
				Key:                       strKey(fieldUserID, u.UserID),
				UpdateExpression:          aws.String(ue.Expr),
				ConditionExpression:       aws.String("attribute_not_exists(#cur)"),
				ExpressionAttributeNames:  ue.Names,
				ExpressionAttributeValues: ue.Values,
			},
		})
		return items, nil
	}

	userUpd, err := clearCurrentSession(tables.Users, u.UserID, u.CurrentSessionID, now,
		map[string]interface{}{fieldPasswordHash: passwordHash})
	if err != nil {
		return nil, err
	}
	items = append(items, types.TransactWriteItem{Update: userUpd})
	if sess != nil {
		end, err := endSessionUpdate(tables.Sessions, sess.Token, domain.SessionEndPasswordReset, now)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{Update: end})
	}
	return items, nil
}

func mustMarshal(v interface{}) types.AttributeValue {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		panic(err)
	}
	return av
}
