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

// SessionRepo provides typed DynamoDB operations for the sessions table.
// PK: token, so User.CurrentSessionID addresses the active row directly.
type SessionRepo struct {
	client *dynamodb.Client
	tables config.DynamoTables
}

func NewSessionRepo(client *dynamodb.Client, tables config.DynamoTables) *SessionRepo {
	return &SessionRepo{client: client, tables: tables}
}

func (r *SessionRepo) Get(ctx context.Context, token string) (*domain.Session, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.Sessions),
		Key:            strKey(fieldToken, token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	var s domain.Session
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) Replace(ctx context.Context, s *domain.Session, expectedCurrent string, now time.Time) error {
	items, err := replaceSessionItems(r.tables, s, expectedCurrent, now)
	if err != nil {
		return err
	}
	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return txError("replace session", err)
	}
	return nil
}

// replaceSessionItems points the user at s.Token, ends the expected current
// session and inserts s. The user update is item 0.
func replaceSessionItems(tables config.DynamoTables, s *domain.Session, expectedCurrent string, now time.Time) ([]types.TransactWriteItem, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldCurrentSessionID: s.Token,
		fieldUpdatedAt:        now,
	})
	if err != nil {
		return nil, err
	}
	ue.bumpVersion()
	ue.Names["#cur"] = fieldCurrentSessionID
	cond := "attribute_exists(user_id) AND attribute_not_exists(#cur)"
	if expectedCurrent != "" {
		cond = "attribute_exists(user_id) AND #cur = :expected"
		ue.Values[":expected"] = str(expectedCurrent)
	}
	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(tables.Users),
			Key:                       strKey(fieldUserID, s.UserID),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		},
	}}

	if expectedCurrent != "" {
		end, err := endSessionUpdate(tables.Sessions, expectedCurrent, domain.SessionEndReplaced, now)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{Update: end})
	}

	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(tables.Sessions),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(#tok)"),
			ExpressionAttributeNames: map[string]string{
				"#tok": fieldToken,
			},
		},
	})
	return items, nil
}

func endSessionUpdate(table, token, reason string, now time.Time) (*types.Update, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldIsActive:     false,
		fieldTerminatedBy: reason,
		fieldEndedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	ue.Names["#tok"] = fieldToken
	return &types.Update{
		TableName:                 aws.String(table),
		Key:                       strKey(fieldToken, token),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#tok)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}, nil
}

// clearCurrentSession removes User.CurrentSessionID if it still equals token.
func clearCurrentSession(table, userID, token string, now time.Time, extra map[string]interface{}) (*types.Update, error) {
	updates := map[string]interface{}{fieldUpdatedAt: now}
	for k, v := range extra {
		updates[k] = v
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return nil, err
	}
	ue.bumpVersion()
	ue.remove(fieldCurrentSessionID)
	ue.Names["#cur"] = fieldCurrentSessionID
	ue.Values[":cur"] = str(token)
	return &types.Update{
		TableName:                 aws.String(table),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#cur = :cur"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}, nil
}

func (r *SessionRepo) End(ctx context.Context, userID, reason string, now time.Time) (*domain.Session, error) {
	u, err := getUser(ctx, r.client, r.tables.Users, userID)
	if err != nil {
		return nil, err
	}
	if u.CurrentSessionID == "" {
		return nil, nil
	}
	sess, err := r.Get(ctx, u.CurrentSessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	userUpd, err := clearCurrentSession(r.tables.Users, userID, u.CurrentSessionID, now, nil)
	if err != nil {
		return nil, err
	}
	items := []types.TransactWriteItem{{Update: userUpd}}
	if sess != nil {
		end, err := endSessionUpdate(r.tables.Sessions, sess.Token, reason, now)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{Update: end})
	}
	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return nil, txError("end session", err)
	}
	if sess == nil {
		return &domain.Session{Token: u.CurrentSessionID, UserID: userID, TerminatedBy: reason, EndedAt: &now}, nil
	}
	sess.IsActive, sess.TerminatedBy, sess.EndedAt = false, reason, &now
	return sess, nil
}

// Touch records last-seen data on the user's active session.
func (r *SessionRepo) Touch(ctx context.Context, userID, token, ip string, now time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldLastSeenAt:        now,
		fieldLastSeenIPAddress: ip,
	})
	if err != nil {
		return err
	}
	ue.Names["#uid"] = fieldUserID
	ue.Names["#act"] = fieldIsActive
	ue.Values[":uid"] = str(userID)
	ue.Values[":true"] = boolean(true)
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tables.Sessions),
		Key:                       strKey(fieldToken, token),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#uid = :uid AND #act = :true"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		return txError("touch session", err)
	}
	return nil
}
