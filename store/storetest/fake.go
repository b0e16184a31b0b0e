// Package storetest provides an in-memory fake of the DynamoDB client
// subset used by the store, for exercising consistency semantics in tests.
//
// The fake honors the store's closed set of condition and update
// expressions: attribute existence checks, single-attribute equality
// guards, SET merges, and ADD counter deltas. TransactWriteItems is
// all-or-none: every item's condition is evaluated against current state
// first, and nothing is applied unless all pass.
package storetest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake is an in-memory stand-in for *dynamodb.Client.
type Fake struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// BeforeTransact, when set, runs before each TransactWriteItems commit
	// (outside the fake's lock). Tests use it to interleave a competing
	// mutation between a transaction body's read and its commit.
	BeforeTransact func()

	// FailTransact, when non-nil, is returned from the next
	// TransactWriteItems call and then cleared.
	FailTransact error
}

// New creates a Fake with the given tables.
func New(tables ...string) *Fake {
	f := &Fake{tables: make(map[string]map[string]map[string]types.AttributeValue)}
	for _, t := range tables {
		f.tables[t] = make(map[string]map[string]types.AttributeValue)
	}
	return f
}

// Seed inserts an item directly, bypassing conditions.
func (f *Fake) Seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table(table)[keyID(item)] = copyItem(item)
}

// ItemFor returns a copy of the stored item, or nil if absent.
func (f *Fake) ItemFor(table, id string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyItem(f.table(table)[id])
}

// Len returns the number of items in a table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.table(table))
}

func (f *Fake) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

// --- Client implementation ---

func (f *Fake) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.table(*params.TableName)[keyID(params.Key)]
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *Fake) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.table(*params.TableName)
	existing := table[keyID(params.Item)]
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	table[keyID(params.Item)] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.table(*params.TableName)
	id := keyID(params.Key)
	existing := table[id]
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	table[id] = applyUpdate(existing, params.Key, *params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *Fake) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.table(*params.TableName)
	id := keyID(params.Key)
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, table[id]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(table, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *Fake) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attr, want, err := parseEquality(*params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	var items []map[string]types.AttributeValue
	for _, item := range f.table(*params.TableName) {
		if got, ok := item[attr]; ok && avEqual(got, want) {
			items = append(items, copyItem(item))
		}
	}
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *Fake) TransactWriteItems(_ context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if hook := f.BeforeTransact; hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.FailTransact; err != nil {
		f.FailTransact = nil
		return nil, err
	}

	// Phase 1: evaluate every condition against current state.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, item := range params.TransactItems {
		ok, err := f.checkTransactItem(item)
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
		} else {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	// Phase 2: apply all writes.
	for _, item := range params.TransactItems {
		f.applyTransactItem(item)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *Fake) checkTransactItem(item types.TransactWriteItem) (bool, error) {
	switch {
	case item.Put != nil:
		existing := f.table(*item.Put.TableName)[keyID(item.Put.Item)]
		return evalCondition(item.Put.ConditionExpression, item.Put.ExpressionAttributeNames, item.Put.ExpressionAttributeValues, existing), nil
	case item.Update != nil:
		existing := f.table(*item.Update.TableName)[keyID(item.Update.Key)]
		return evalCondition(item.Update.ConditionExpression, item.Update.ExpressionAttributeNames, item.Update.ExpressionAttributeValues, existing), nil
	case item.Delete != nil:
		existing := f.table(*item.Delete.TableName)[keyID(item.Delete.Key)]
		return evalCondition(item.Delete.ConditionExpression, item.Delete.ExpressionAttributeNames, item.Delete.ExpressionAttributeValues, existing), nil
	case item.ConditionCheck != nil:
		existing := f.table(*item.ConditionCheck.TableName)[keyID(item.ConditionCheck.Key)]
		return evalCondition(item.ConditionCheck.ConditionExpression, item.ConditionCheck.ExpressionAttributeNames, item.ConditionCheck.ExpressionAttributeValues, existing), nil
	}
	return false, fmt.Errorf("storetest: empty transact item")
}

func (f *Fake) applyTransactItem(item types.TransactWriteItem) {
	switch {
	case item.Put != nil:
		table := f.table(*item.Put.TableName)
		table[keyID(item.Put.Item)] = copyItem(item.Put.Item)
	case item.Update != nil:
		table := f.table(*item.Update.TableName)
		id := keyID(item.Update.Key)
		table[id] = applyUpdate(table[id], item.Update.Key, *item.Update.UpdateExpression, item.Update.ExpressionAttributeNames, item.Update.ExpressionAttributeValues)
	case item.Delete != nil:
		delete(f.table(*item.Delete.TableName), keyID(item.Delete.Key))
	}
}

// --- expression evaluation ---

func keyID(attrs map[string]types.AttributeValue) string {
	if v, ok := attrs["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if real, ok := names[token]; ok {
			return real
		}
	}
	return token
}

// evalCondition evaluates the closed set of condition forms the store
// emits. A nil expression always passes.
func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	s := strings.TrimSpace(*expr)
	switch s {
	case "attribute_not_exists(id)":
		return item == nil
	case "attribute_exists(id)":
		return item != nil
	}

	attr, want, err := parseEquality(s, names, values)
	if err != nil {
		return false
	}
	if item == nil {
		return false
	}
	got, ok := item[attr]
	if !ok {
		return false
	}
	return avEqual(got, want)
}

// parseEquality parses a "#name = :value" expression.
func parseEquality(expr string, names map[string]string, values map[string]types.AttributeValue) (string, types.AttributeValue, error) {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("storetest: unsupported expression %q", expr)
	}
	attr := resolveName(strings.TrimSpace(parts[0]), names)
	value, ok := values[strings.TrimSpace(parts[1])]
	if !ok {
		return "", nil, fmt.Errorf("storetest: unbound value in %q", expr)
	}
	return attr, value, nil
}

// applyUpdate applies a SET or ADD update expression, creating the item
// from its key if absent (DynamoDB upsert semantics).
func applyUpdate(existing map[string]types.AttributeValue, key map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) map[string]types.AttributeValue {
	item := copyItem(existing)
	if item == nil {
		item = copyItem(key)
	}

	switch {
	case strings.HasPrefix(expr, "SET "):
		for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
			parts := strings.SplitN(clause, "=", 2)
			attr := resolveName(strings.TrimSpace(parts[0]), names)
			item[attr] = values[strings.TrimSpace(parts[1])]
		}
	case strings.HasPrefix(expr, "ADD "):
		clause := strings.Fields(strings.TrimPrefix(expr, "ADD "))
		attr := resolveName(clause[0], names)
		delta := numOf(values[clause[1]])
		item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(numOf(item[attr])+delta, 10)}
	}
	return item
}

func numOf(av types.AttributeValue) int64 {
	if v, ok := av.(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func avEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && numOf(av) == numOf(bv)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return false
}
