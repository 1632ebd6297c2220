package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/domain"
)

// UserRepo provides typed DynamoDB operations for the users table.
// Email and phone uniqueness is enforced by guard rows (user_id "email#..." and
// "phone#...") written in the same transaction as the user.
type UserRepo struct {
	client *dynamodb.Client
	tables config.DynamoTables
}

func NewUserRepo(client *dynamodb.Client, tables config.DynamoTables) *UserRepo {
	return &UserRepo{client: client, tables: tables}
}

type guardRow struct {
	Key     string `dynamodbav:"user_id"`
	OwnerID string `dynamodbav:"owner_id"`
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	items, err := createUserItems(r.tables.Users, u)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return txError("create user", err)
	}
	return nil
}

func createUserItems(table string, u *domain.User) ([]types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(user_id)"),
		},
	}}
	for _, key := range []string{guardEmailPrefix + u.Email, guardPhonePrefix + u.Phone} {
		guard, err := attributevalue.MarshalMap(guardRow{Key: key, OwnerID: u.UserID})
		if err != nil {
			return nil, fmt.Errorf("marshal guard: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(table),
				Item:                guard,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			},
		})
	}
	return items, nil
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	return getUser(ctx, r.client, r.tables.Users, userID)
}

func getUser(ctx context.Context, client *dynamodb.Client, table, userID string) (*domain.User, error) {
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            strKey(fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getByGuard(ctx, guardPhonePrefix+phone)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getByGuard(ctx, guardEmailPrefix+email)
}

func (r *UserRepo) getByGuard(ctx context.Context, key string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.Users),
		Key:            strKey(fieldUserID, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user guard: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	var g guardRow
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal guard: %w", err)
	}
	return r.Get(ctx, g.OwnerID)
}

func (r *UserRepo) SetPendingOrder(ctx context.Context, userID string, order *domain.Order, plan *domain.PlanSnapshot, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldPendingOrderID:        order.OrderID,
		fieldPendingOrderReceipt:   order.Receipt,
		fieldPendingOrderCreatedAt: at,
		fieldPendingPlan:           plan,
		fieldUpdatedAt:             at,
	})
	if err != nil {
		return err
	}
	ue.bumpVersion()
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tables.Users),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		return txError("set pending order", err)
	}
	return nil
}

// Ping checks that the users table is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.tables.Users)})
	return err
}
