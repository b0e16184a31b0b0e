package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/carrel/store"
	"github.com/jacentio/carrel/store/storetest"
)

// Doc is a minimal storable fixture.
type Doc struct {
	ID    string `dynamodbav:"id"`
	Title string `dynamodbav:"title"`
}

func (d Doc) TableName() string { return "docs" }
func (d Doc) GetKey() store.PK  { return store.KeyFor(d.ID) }

func newStore(t *testing.T) (*store.Store, *storetest.Fake) {
	t.Helper()
	fake := storetest.New("docs", "children")
	return store.New(fake, store.DefaultConfig()), fake
}

// --- Put / Get ---

func TestPut_ThenGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Doc{ID: "d1", Title: "A"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	item, err := s.Get(ctx, "docs", store.KeyFor("d1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.String("title") != "A" {
		t.Errorf("expected title 'A', got %q", item.String("title"))
	}
}

func TestPut_ExistingID(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Doc{ID: "d1", Title: "A"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := s.Put(ctx, Doc{ID: "d1", Title: "B"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Get(context.Background(), "docs", store.KeyFor("nope"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Merge ---

func TestMerge_UpdatesFields(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Doc{ID: "d1", Title: "A"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := s.Merge(ctx, "docs", store.KeyFor("d1"), map[string]types.AttributeValue{
		"title": &types.AttributeValueMemberS{Value: "B"},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	item := store.Item(fake.ItemFor("docs", "d1"))
	if item.String("title") != "B" {
		t.Errorf("expected title 'B', got %q", item.String("title"))
	}
}

func TestMerge_Missing(t *testing.T) {
	s, _ := newStore(t)

	err := s.Merge(context.Background(), "docs", store.KeyFor("nope"), map[string]types.AttributeValue{
		"title": &types.AttributeValueMemberS{Value: "B"},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMerge_EmptyFieldsIsNoop(t *testing.T) {
	s, _ := newStore(t)

	if err := s.Merge(context.Background(), "docs", store.KeyFor("nope"), nil); err != nil {
		t.Errorf("expected nil for empty merge, got %v", err)
	}
}

func TestMerge_IDOnlyIsNoop(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Doc{ID: "d1", Title: "A"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// The id attribute is filtered out of merges, so a map carrying only id
	// must not reach the store as a clause-less SET expression.
	err := s.Merge(ctx, "docs", store.KeyFor("d1"), map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "other"},
	})
	if err != nil {
		t.Fatalf("expected nil for id-only merge, got %v", err)
	}

	item := store.Item(fake.ItemFor("docs", "d1"))
	if item.String("title") != "A" {
		t.Errorf("expected document unchanged, got title %q", item.String("title"))
	}
}

// --- QueryByBook ---

func TestQueryByBook(t *testing.T) {
	s, fake := newStore(t)

	fake.Seed("children", map[string]types.AttributeValue{
		"id":     &types.AttributeValueMemberS{Value: "c1"},
		"bookId": &types.AttributeValueMemberS{Value: "b1"},
	})
	fake.Seed("children", map[string]types.AttributeValue{
		"id":     &types.AttributeValueMemberS{Value: "c2"},
		"bookId": &types.AttributeValueMemberS{Value: "b1"},
	})
	fake.Seed("children", map[string]types.AttributeValue{
		"id":     &types.AttributeValueMemberS{Value: "c3"},
		"bookId": &types.AttributeValueMemberS{Value: "other"},
	})

	items, err := s.QueryByBook(context.Background(), "children", "b1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, item := range items {
		if item.String("bookId") != "b1" {
			t.Errorf("expected bookId 'b1', got %q", item.String("bookId"))
		}
	}
}

func TestQueryByBook_NoMatches(t *testing.T) {
	s, _ := newStore(t)

	items, err := s.QueryByBook(context.Background(), "children", "b1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
}

// --- Batch ---

func TestBatch_AllOrNone(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()

	// Second item's condition references a missing document, so the first
	// item's put must not be applied either.
	put, err := store.PutNew(Doc{ID: "d1", Title: "A"})
	if err != nil {
		t.Fatalf("putnew: %v", err)
	}
	items := []types.TransactWriteItem{
		put,
		store.AddDelta("docs", store.KeyFor("missing"), "count", 1),
	}

	err = s.Batch(ctx, items)
	if err == nil {
		t.Fatal("expected batch to fail")
	}
	if idx, ok := store.FailedConditionIndex(err); !ok || idx != 1 {
		t.Errorf("expected failed condition at index 1, got %d (ok=%v)", idx, ok)
	}
	if fake.Len("docs") != 0 {
		t.Errorf("expected no documents after failed batch, got %d", fake.Len("docs"))
	}
}

func TestBatch_AddDelta(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()

	fake.Seed("docs", map[string]types.AttributeValue{
		"id":    &types.AttributeValueMemberS{Value: "d1"},
		"count": &types.AttributeValueMemberN{Value: "2"},
	})

	err := s.Batch(ctx, []types.TransactWriteItem{
		store.AddDelta("docs", store.KeyFor("d1"), "count", -1),
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	item := fake.ItemFor("docs", "d1")
	if n, ok := item["count"].(*types.AttributeValueMemberN); !ok || n.Value != "1" {
		t.Errorf("expected count 1, got %v", item["count"])
	}
}

func TestBatch_Empty(t *testing.T) {
	s, _ := newStore(t)
	if err := s.Batch(context.Background(), nil); err != nil {
		t.Errorf("expected nil for empty batch, got %v", err)
	}
}

// --- Transact ---

func TestTransact_CommitsOnce(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()

	fake.Seed("docs", map[string]types.AttributeValue{
		"id":   &types.AttributeValueMemberS{Value: "d1"},
		"open": &types.AttributeValueMemberBOOL{Value: true},
	})

	runs := 0
	err := s.Transact(ctx, func(ctx context.Context) ([]types.TransactWriteItem, error) {
		runs++
		return []types.TransactWriteItem{
			store.SetBoolGuarded("docs", store.KeyFor("d1"), "open", true, false),
		}, nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if runs != 1 {
		t.Errorf("expected 1 run, got %d", runs)
	}

	item := store.Item(fake.ItemFor("docs", "d1"))
	if open, ok := item.Bool("open"); !ok || open {
		t.Error("expected open=false after transact")
	}
}

func TestTransact_RetriesOnInvalidatedCondition(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()

	fake.Seed("docs", map[string]types.AttributeValue{
		"id":   &types.AttributeValueMemberS{Value: "d1"},
		"open": &types.AttributeValueMemberBOOL{Value: true},
	})

	// A competing writer flips the flag between the body's read and the
	// commit; the re-run body observes the new state and stops.
	fake.BeforeTransact = func() {
		fake.BeforeTransact = nil
		fake.Seed("docs", map[string]types.AttributeValue{
			"id":   &types.AttributeValueMemberS{Value: "d1"},
			"open": &types.AttributeValueMemberBOOL{Value: false},
		})
	}

	terminal := errors.New("already closed")
	runs := 0
	err := s.Transact(ctx, func(ctx context.Context) ([]types.TransactWriteItem, error) {
		runs++
		item, err := s.Get(ctx, "docs", store.KeyFor("d1"))
		if err != nil {
			return nil, err
		}
		if open, _ := item.Bool("open"); !open {
			return nil, terminal
		}
		return []types.TransactWriteItem{
			store.SetBoolGuarded("docs", store.KeyFor("d1"), "open", true, false),
		}, nil
	})

	if !errors.Is(err, terminal) {
		t.Errorf("expected terminal error, got %v", err)
	}
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestTransact_ExhaustsRetries(t *testing.T) {
	fake := storetest.New("docs")
	s := store.New(fake, store.Config{MaxTxAttempts: 3})
	ctx := context.Background()

	// The guarded flag never matches, so every commit is cancelled and the
	// body keeps returning the same writes.
	fake.Seed("docs", map[string]types.AttributeValue{
		"id":   &types.AttributeValueMemberS{Value: "d1"},
		"open": &types.AttributeValueMemberBOOL{Value: false},
	})

	runs := 0
	err := s.Transact(ctx, func(ctx context.Context) ([]types.TransactWriteItem, error) {
		runs++
		return []types.TransactWriteItem{
			store.SetBoolGuarded("docs", store.KeyFor("d1"), "open", true, false),
		}, nil
	})

	if !errors.Is(err, store.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
	if runs != 3 {
		t.Errorf("expected 3 runs, got %d", runs)
	}
}

func TestTransact_TerminalErrorPropagates(t *testing.T) {
	s, _ := newStore(t)

	boom := errors.New("boom")
	err := s.Transact(context.Background(), func(ctx context.Context) ([]types.TransactWriteItem, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestTransact_EmptyWritesSucceed(t *testing.T) {
	s, _ := newStore(t)

	err := s.Transact(context.Background(), func(ctx context.Context) ([]types.TransactWriteItem, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("expected nil for empty writes, got %v", err)
	}
}

// --- DeleteByKey ---

func TestDeleteByKey_MissingIsNoop(t *testing.T) {
	s, _ := newStore(t)

	if err := s.DeleteByKey(context.Background(), "docs", store.KeyFor("nope")); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

// --- FailedConditionIndex ---

func TestFailedConditionIndex_NotATransactionError(t *testing.T) {
	if _, ok := store.FailedConditionIndex(errors.New("boom")); ok {
		t.Error("expected ok=false for a plain error")
	}
}
