package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/domain"
)

const invoicesByUserIndex = "user_id-issued_at-index"

// BillingRepo covers plans, plan history and invoices.
type BillingRepo struct {
	client *dynamodb.Client
	tables config.DynamoTables
}

func NewBillingRepo(client *dynamodb.Client, tables config.DynamoTables) *BillingRepo {
	return &BillingRepo{client: client, tables: tables}
}

func (r *BillingRepo) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tables.Plans),
		Key:       strKey(fieldPlanID, planID),
	})
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	var p domain.Plan
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &p, nil
}

// PutPlan upserts a catalog entry.
func (r *BillingRepo) PutPlan(ctx context.Context, p *domain.Plan) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tables.Plans),
		Item:      item,
	})
	return err
}

func (r *BillingRepo) ApplyEntitlement(ctx context.Context, c *domain.EntitlementChange) error {
	items, err := entitlementItems(r.tables, c)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	if conditionFailedAt(err, 0) {
		u, gerr := getUser(ctx, r.client, r.tables.Users, c.UserID)
		if gerr == nil && u.IsSubscribed && u.SubscriptionID == c.PaymentID {
			return domain.ErrAlreadyApplied
		}
	}
	return txError("apply entitlement", err)
}

// entitlementItems builds the all-or-nothing entitlement write. Item 0 is the
// user update, guarded by the observed version and by the payment not being
// applied yet.
func entitlementItems(tables config.DynamoTables, c *domain.EntitlementChange) ([]types.TransactWriteItem, error) {
	plan := c.Plan
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldIsSubscribed:         true,
		fieldSubscriptionID:       c.PaymentID,
		fieldRegistrationComplete: true,
		fieldPaymentVerifiedAt:    c.At,
		fieldActivePlan:           &plan,
		fieldActivePlanHistoryID:  c.NewHistory.HistoryID,
		fieldUpdatedAt:            c.At,
	})
	if err != nil {
		return nil, err
	}
	ue.bumpVersion()
	ue.remove(fieldPendingOrderID, fieldPendingOrderReceipt, fieldPendingOrderCreatedAt, fieldPendingPlan)
	ue.Names["#sub"] = fieldIsSubscribed
	ue.Names["#sid"] = fieldSubscriptionID
	ue.Values[":expected"] = num(c.ExpectedVersion)
	ue.Values[":true"] = boolean(true)
	ue.Values[":pid"] = str(c.PaymentID)

	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(tables.Users),
			Key:                       strKey(fieldUserID, c.UserID),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String("#ver = :expected AND NOT (#sub = :true AND #sid = :pid)"),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		},
	}}

	if c.PreviousHistoryID != "" {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(tables.PlanHistory),
				Key:                 strKey(fieldHistoryID, c.PreviousHistoryID),
				UpdateExpression:    aws.String("SET #st = :ended, #ca = :at"),
				ConditionExpression: aws.String("#st = :active"),
				ExpressionAttributeNames: map[string]string{
					"#st": fieldStatus,
					"#ca": fieldCancelledAt,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ended":  str(domain.PlanStatusEnded),
					":active": str(domain.PlanStatusActive),
					":at":     mustMarshal(c.At),
				},
			},
		})
	}

	history, err := attributevalue.MarshalMap(c.NewHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal plan history: %w", err)
	}
	invoice, err := attributevalue.MarshalMap(c.Invoice)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}
	items = append(items,
		types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(tables.PlanHistory),
			Item:                history,
			ConditionExpression: aws.String("attribute_not_exists(history_id)"),
		}},
		types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(tables.Invoices),
			Item:                invoice,
			ConditionExpression: aws.String("attribute_not_exists(invoice_id)"),
		}},
	)
	return items, nil
}

// ListInvoices returns the user's invoices, newest first.
func (r *BillingRepo) ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tables.Invoices),
		IndexName:                 aws.String(invoicesByUserIndex),
		KeyConditionExpression:    aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": str(userID)},
		ScanIndexForward:          aws.Bool(false),
	})
	invoices := []domain.Invoice{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query invoices: %w", err)
		}
		var batch []domain.Invoice
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal invoices: %w", err)
		}
		invoices = append(invoices, batch...)
	}
	return invoices, nil
}

func (r *BillingRepo) GetInvoice(ctx context.Context, userID, invoiceID string) (*domain.Invoice, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tables.Invoices),
		Key:       strKey(fieldInvoiceID, invoiceID),
	})
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	var inv domain.Invoice
	if err := attributevalue.UnmarshalMap(out.Item, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal invoice: %w", err)
	}
	if inv.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}
