package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is the subset of the DynamoDB API the store uses.
// *dynamodb.Client satisfies it; tests substitute an in-memory fake.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store provides document operations over DynamoDB: single-document
// conditional reads/writes, all-or-none batches, and read-then-write
// transactions with conflict retry.
type Store struct {
	client Client
	config Config
}

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Put creates a new document. Fails with ErrAlreadyExists if a document
// with the same id is already present.
func (s *Store) Put(ctx context.Context, entity Entity) error {
	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", entity.TableName(), err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(entity.TableName()),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrAlreadyExists
	}
	return err
}

// Get retrieves a document by key, returning ErrNotFound if missing.
// A missing document is reported as an error, never as a zero-valued item.
func (s *Store) Get(ctx context.Context, table string, key PK) (Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return Item(result.Item), nil
}

// Merge applies a field merge to an existing document.
// Fails with ErrNotFound if the document does not exist.
func (s *Store) Merge(ctx context.Context, table string, key PK, fields map[string]types.AttributeValue) error {
	updateExpr, exprNames, exprValues := buildSetExpr(fields)
	// The id attribute is filtered out of merges; a field map with nothing
	// else left is a no-op, not an empty SET expression.
	if len(exprValues) == 0 {
		return nil
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	})
	if isConditionalCheckFailed(err) {
		return ErrNotFound
	}
	return err
}

// QueryByBook returns every document in table whose bookId equals bookID,
// via the bookId GSI. Paginates through all results.
func (s *Store) QueryByBook(ctx context.Context, table, bookID string) ([]Item, error) {
	var items []Item
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		IndexName:              aws.String(s.config.ByBookIndex),
		KeyConditionExpression: aws.String("#bookId = :bookId"),
		ExpressionAttributeNames: map[string]string{
			"#bookId": "bookId",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bookId": &types.AttributeValueMemberS{Value: bookID},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			items = append(items, Item(raw))
		}
	}
	return items, nil
}

// DeleteByKey deletes a single document unconditionally.
// Deleting a missing document is a no-op, matching DynamoDB semantics.
func (s *Store) DeleteByKey(ctx context.Context, table string, key PK) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	return err
}

// Batch applies a set of writes as one all-or-none unit. No pre-read is
// required; per-item conditions decide success. On condition failure the
// raw transaction error is returned so callers can map the failed item
// index with FailedConditionIndex.
func (s *Store) Batch(ctx context.Context, items []types.TransactWriteItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return err
}

// Transact runs fn, which reads whatever documents it needs through the
// store and returns the guarded writes to commit, then commits them as one
// unit. If the commit is cancelled by an optimistic conflict or a failed
// item condition, fn is re-run against fresh state, up to MaxTxAttempts;
// exhausting the attempts surfaces ErrTransient. Errors returned by fn are
// terminal and propagate unchanged.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) ([]types.TransactWriteItem, error)) error {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxTxAttempts; attempt++ {
		items, err := fn(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if err == nil {
			return nil
		}
		if !isRetryableCancellation(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w (%d attempts): %v", ErrTransient, s.config.MaxTxAttempts, lastErr)
}

// --- transact item builders ---

// PutNew returns a transact item creating entity, failing the batch if a
// document with the same id already exists.
func PutNew(entity Entity) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal %s: %w", entity.TableName(), err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(entity.TableName()),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	}, nil
}

// DeleteDoc returns a transact item deleting a document unconditionally.
func DeleteDoc(table string, key PK) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(table),
			Key:       key,
		},
	}
}

// DeleteExisting returns a transact item deleting a document, failing the
// batch if the document does not exist.
func DeleteExisting(table string, key PK) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(table),
			Key:                 key,
			ConditionExpression: aws.String("attribute_exists(id)"),
		},
	}
}

// DeleteOwned returns a transact item deleting a document, failing the
// batch unless the document still carries the given bookId. A missing
// document fails the condition too.
func DeleteOwned(table string, key PK, bookID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(table),
			Key:                 key,
			ConditionExpression: aws.String("#bookId = :bookId"),
			ExpressionAttributeNames: map[string]string{
				"#bookId": "bookId",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":bookId": &types.AttributeValueMemberS{Value: bookID},
			},
		},
	}
}

// AddDelta returns a transact item applying a store-native atomic delta to
// a counter field, failing the batch if the document does not exist. This
// is never a read-modify-write; concurrent deltas on the same document
// compose.
func AddDelta(table string, key PK, field string, delta int) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(table),
			Key:                 key,
			UpdateExpression:    aws.String("ADD #field :delta"),
			ConditionExpression: aws.String("attribute_exists(id)"),
			ExpressionAttributeNames: map[string]string{
				"#field": field,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
			},
		},
	}
}

// SetBoolGuarded returns a transact item flipping a boolean field from one
// value to another, failing the batch if the field is not currently at the
// expected value. The guard serializes concurrent state transitions.
func SetBoolGuarded(table string, key PK, field string, from, to bool) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(table),
			Key:                 key,
			UpdateExpression:    aws.String("SET #field = :to"),
			ConditionExpression: aws.String("#field = :from"),
			ExpressionAttributeNames: map[string]string{
				"#field": field,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":to":   &types.AttributeValueMemberBOOL{Value: to},
				":from": &types.AttributeValueMemberBOOL{Value: from},
			},
		},
	}
}

// --- error mapping ---

// FailedConditionIndex reports the index of the first transact item whose
// condition failed, if err is a transaction cancellation.
func FailedConditionIndex(err error) (int, bool) {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return 0, false
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return 0, false
}

// isConditionalCheckFailed reports whether err is a single-document
// conditional write failure.
func isConditionalCheckFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// isRetryableCancellation reports whether a transaction commit failed in a
// way that warrants re-running the transaction body against fresh state:
// either a write-write conflict or a condition invalidated since the read.
func isRetryableCancellation(err error) bool {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return true
			}
		}
		return false
	}
	var conflictErr *types.TransactionConflictException
	return errors.As(err, &conflictErr)
}

// buildSetExpr builds a SET update expression from a field map, with
// placeholder names to avoid reserved-word collisions. The id attribute is
// never part of a merge.
func buildSetExpr(fields map[string]types.AttributeValue) (string, map[string]string, map[string]types.AttributeValue) {
	var setClauses []string
	exprNames := map[string]string{}
	exprValues := map[string]types.AttributeValue{}

	i := 0
	for k, v := range fields {
		if k == "id" {
			continue
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = k
		exprValues[valueKey] = v
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}

	return "SET " + strings.Join(setClauses, ", "), exprNames, exprValues
}
