package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-subscription-core/internal/domain"
)

// ChallengeRepo stores OTP challenges. PK: challenge_id.
// Each (user, purpose) pair also has a head row whose current_challenge_id
// names the only challenge that may still be unconsumed.
type ChallengeRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewChallengeRepo(client *dynamodb.Client, tableName string) *ChallengeRepo {
	return &ChallengeRepo{client: client, tableName: tableName}
}

type headRow struct {
	Key        string `dynamodbav:"challenge_id"`
	Current    string `dynamodbav:"current_challenge_id"`
	UserID     string `dynamodbav:"user_id"`
	Purpose    string `dynamodbav:"purpose"`
	ExpiresTTL int64  `dynamodbav:"expires_ttl"`
}

func (r *ChallengeRepo) head(ctx context.Context, userID, purpose string) (*headRow, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldChallengeID, headKey(userID, purpose)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get otp head: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var h headRow
	if err := attributevalue.UnmarshalMap(out.Item, &h); err != nil {
		return nil, fmt.Errorf("unmarshal otp head: %w", err)
	}
	return &h, nil
}

func (r *ChallengeRepo) Rotate(ctx context.Context, c *domain.OtpChallenge) error {
	h, err := r.head(ctx, c.UserID, c.Purpose)
	if err != nil {
		return err
	}
	observed := ""
	if h != nil {
		observed = h.Current
	}
	items, err := rotateItems(r.tableName, c, observed)
	if err != nil {
		return err
	}
	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return txError("rotate otp", err)
	}
	return nil
}

// rotateItems moves the head to c, consumes the observed current challenge
// and inserts c. The head update fails if another rotation won the race.
func rotateItems(table string, c *domain.OtpChallenge, observed string) ([]types.TransactWriteItem, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldCurrent:  c.ChallengeID,
		fieldUserID:   c.UserID,
		"purpose":     c.Purpose,
		"expires_ttl": c.ExpiresTTL,
	})
	if err != nil {
		return nil, err
	}
	ue.Names["#cur"] = fieldCurrent
	cond := "attribute_not_exists(#cur)"
	if observed != "" {
		cond = "#cur = :observed"
		ue.Values[":observed"] = str(observed)
	}
	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(table),
			Key:                       strKey(fieldChallengeID, headKey(c.UserID, c.Purpose)),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		},
	}}

	if observed != "" {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(table),
				Key:                       strKey(fieldChallengeID, observed),
				UpdateExpression:          aws.String("SET #c = :true"),
				ExpressionAttributeNames:  map[string]string{"#c": fieldConsumed},
				ExpressionAttributeValues: map[string]types.AttributeValue{":true": boolean(true)},
			},
		})
	}

	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(challenge_id)"),
		},
	})
	return items, nil
}

func (r *ChallengeRepo) Latest(ctx context.Context, userID, purpose string) (*domain.OtpChallenge, error) {
	h, err := r.head(ctx, userID, purpose)
	if err != nil {
		return nil, err
	}
	if h == nil || h.Current == "" {
		return nil, domain.ErrNotFound
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldChallengeID, h.Current),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get otp challenge: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	var c domain.OtpChallenge
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal otp challenge: %w", err)
	}
	if c.Consumed {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *ChallengeRepo) RecordAttempt(ctx context.Context, challengeID string, expected, next int, consume bool) error {
	updates := map[string]interface{}{fieldAttemptCount: next}
	if consume {
		updates[fieldConsumed] = true
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#att"] = fieldAttemptCount
	ue.Names["#con"] = fieldConsumed
	ue.Values[":expected"] = num(int64(expected))
	ue.Values[":false"] = boolean(false)
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldChallengeID, challengeID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#att = :expected AND #con = :false"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		return txError("record otp attempt", err)
	}
	return nil
}

func (r *ChallengeRepo) Consume(ctx context.Context, challengeID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldChallengeID, challengeID),
		UpdateExpression:          aws.String("SET #c = :true"),
		ConditionExpression:       aws.String("attribute_exists(challenge_id)"),
		ExpressionAttributeNames:  map[string]string{"#c": fieldConsumed},
		ExpressionAttributeValues: map[string]types.AttributeValue{":true": boolean(true)},
	})
	if err != nil {
		return txError("consume otp", err)
	}
	return nil
}
