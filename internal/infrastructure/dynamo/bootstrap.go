package dynamo

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-subscription-core/internal/config"
)

// Bootstrap creates all DynamoDB tables and GSIs if they don't already exist.
// Safe to call on every startup; existing tables are skipped.
func Bootstrap(ctx context.Context, client *dynamodb.Client, tables config.DynamoTables) {
	createTable(ctx, client, hashTable(tables.Users, fieldUserID))

	sessions := hashTable(tables.Sessions, fieldToken)
	sessions.AttributeDefinitions = append(sessions.AttributeDefinitions,
		types.AttributeDefinition{AttributeName: aws.String(fieldUserID), AttributeType: types.ScalarAttributeTypeS})
	sessions.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{gsi("user_id-index", fieldUserID, "")}
	createTable(ctx, client, sessions)

	createTable(ctx, client, hashTable(tables.OtpChallenges, fieldChallengeID))
	enableTTL(ctx, client, tables.OtpChallenges, "expires_ttl")

	createTable(ctx, client, hashTable(tables.ResetTokens, fieldTokenID))
	createTable(ctx, client, hashTable(tables.Plans, fieldPlanID))

	history := hashTable(tables.PlanHistory, fieldHistoryID)
	history.AttributeDefinitions = append(history.AttributeDefinitions,
		types.AttributeDefinition{AttributeName: aws.String(fieldUserID), AttributeType: types.ScalarAttributeTypeS})
	history.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{gsi("user_id-index", fieldUserID, "")}
	createTable(ctx, client, history)

	invoices := hashTable(tables.Invoices, fieldInvoiceID)
	invoices.AttributeDefinitions = append(invoices.AttributeDefinitions,
		types.AttributeDefinition{AttributeName: aws.String(fieldUserID), AttributeType: types.ScalarAttributeTypeS},
		types.AttributeDefinition{AttributeName: aws.String(fieldIssuedAt), AttributeType: types.ScalarAttributeTypeS})
	invoices.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{gsi(invoicesByUserIndex, fieldUserID, fieldIssuedAt)}
	createTable(ctx, client, invoices)
}

func hashTable(name, key string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(key), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(key), KeyType: types.KeyTypeHash},
		},
	}
}

// gsi builds a GSI descriptor. If sortKey is empty, only a hash key is added.
func gsi(indexName, hashKey, sortKey string) types.GlobalSecondaryIndex {
	ks := []types.KeySchemaElement{
		{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
	}
	if sortKey != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange,
		})
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(indexName),
		KeySchema:  ks,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTable(ctx context.Context, client *dynamodb.Client, input *dynamodb.CreateTableInput) {
	_, err := client.CreateTable(ctx, input)
	if err != nil {
		// ResourceInUseException means the table already exists.
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			slog.Warn("could not create table", "table", *input.TableName, "err", err)
		}
	} else {
		slog.Info("created table", "table", *input.TableName)
	}
}

func enableTTL(ctx context.Context, client *dynamodb.Client, tableName, ttlAttr string) {
	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String(ttlAttr),
		},
	})
	if err != nil {
		slog.Warn("could not enable TTL", "table", tableName, "err", err)
	}
}
