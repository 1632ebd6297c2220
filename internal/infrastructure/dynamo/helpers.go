package dynamo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-subscription-core/internal/domain"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func num(v int64) types.AttributeValue { return &types.AttributeValueMemberN{Value: fmt.Sprint(v)} }
func boolean(v bool) types.AttributeValue { return &types.AttributeValueMemberBOOL{Value: v} }

// updateExpr is a SET expression with its placeholder maps. Callers may add
// their own placeholders as long as they do not use the #f/:v prefixes.
type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET
// expression. Fields are emitted in sorted order so the output is stable.
func buildUpdateExpr(updates map[string]interface{}) (*updateExpr, error) {
	if len(updates) == 0 {
		return nil, errors.New("no fields to update")
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ue := &updateExpr{
		Expr:   "SET ",
		Names:  make(map[string]string, len(keys)),
		Values: make(map[string]types.AttributeValue, len(keys)),
	}
	for i, k := range keys {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(updates[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		ue.Names[nameKey] = k
		ue.Values[valueKey] = av
		if i > 0 {
			ue.Expr += ", "
		}
		ue.Expr += fmt.Sprintf("%s = %s", nameKey, valueKey)
	}
	return ue, nil
}

// bumpVersion increments the optimistic-lock counter. It must be called
// before remove.
func (ue *updateExpr) bumpVersion() {
	ue.Names["#ver"] = fieldVersion
	ue.Values[":zero"] = num(0)
	ue.Values[":one"] = num(1)
	ue.Expr += ", #ver = if_not_exists(#ver, :zero) + :one"
}

// remove appends a REMOVE clause for the given attributes.
func (ue *updateExpr) remove(fields ...string) {
	if len(fields) == 0 {
		return
	}
	ue.Expr += " REMOVE "
	for i, f := range fields {
		nameKey := fmt.Sprintf("#r%d", i)
		ue.Names[nameKey] = f
		if i > 0 {
			ue.Expr += ", "
		}
		ue.Expr += nameKey
	}
}

// cancellationCodes returns the per-item reason codes of a cancelled
// transaction, or nil when err is not a cancellation.
func cancellationCodes(err error) []string {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	codes := make([]string, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		if r.Code != nil {
			codes[i] = *r.Code
		}
	}
	return codes
}

// conditionFailedAt reports whether item i of a cancelled transaction failed
// its condition check.
func conditionFailedAt(err error, i int) bool {
	codes := cancellationCodes(err)
	return i < len(codes) && codes[i] == "ConditionalCheckFailed"
}

// txError maps a transaction failure to domain.ErrConflict when any condition
// check failed, and wraps it otherwise.
func txError(op string, err error) error {
	for _, c := range cancellationCodes(err) {
		if c == "ConditionalCheckFailed" || c == "TransactionConflict" {
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		}
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
