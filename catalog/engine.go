package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jacentio/carrel/store"
)

// maxBatchItems is the DynamoDB transaction size limit.
const maxBatchItems = 100

// Engine implements the catalog's state-changing operations. Every
// operation is one atomic batch or transaction against the store, so the
// derived counters on a book can never drift from the dependent records
// it owns, partial failure included.
type Engine struct {
	store    *store.Store
	logger   *slog.Logger
	hashCost int
}

// NewEngine creates an Engine on the given store.
func NewEngine(s *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    s,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// CreateBook creates a book with both derived counters at zero.
// Single-document create; no transaction needed.
func (e *Engine) CreateBook(ctx context.Context, title, publisher, author string) (*Book, error) {
	book := &Book{
		ID:               uuid.NewString(),
		Title:            title,
		Publisher:        publisher,
		Author:           author,
		StockCount:       0,
		ReservationCount: 0,
	}
	if err := e.store.Put(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// GetBook reads a book by id.
func (e *Engine) GetBook(ctx context.Context, id string) (*Book, error) {
	item, err := e.store.Get(ctx, BooksTable, store.KeyFor(id))
	if err != nil {
		return nil, err
	}
	var book Book
	if err := attributevalue.UnmarshalMap(item, &book); err != nil {
		return nil, fmt.Errorf("unmarshal book: %w", err)
	}
	return &book, nil
}

// UpdateBook merges fields into an existing book. The derived counters are
// engine-private: the field guard rejects them upstream and the engine
// re-checks here.
func (e *Engine) UpdateBook(ctx context.Context, id string, fields map[string]any) error {
	if err := rejectFields(fields, "stockCount", "reservationCount"); err != nil {
		return err
	}
	attrs, err := marshalFields(fields)
	if err != nil {
		return err
	}
	return e.store.Merge(ctx, BooksTable, store.KeyFor(id), attrs)
}

// DeleteBook deletes a book and cascades to every stock and reservation
// referencing it, in one all-or-none batch (chunked past the store's
// transaction size limit). Returns ErrNotFound if the book doesn't exist.
//
// The dependent set is queried before the batch commits; a dependent added
// in that window is missed here and orphaned until the stream sweeper
// removes it.
func (e *Engine) DeleteBook(ctx context.Context, id string) error {
	stocks, err := e.store.QueryByBook(ctx, StocksTable, id)
	if err != nil {
		return err
	}
	reservations, err := e.store.QueryByBook(ctx, ReservationsTable, id)
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{store.DeleteExisting(BooksTable, store.KeyFor(id))}
	for _, s := range stocks {
		items = append(items, store.DeleteDoc(StocksTable, store.KeyFor(s.ID())))
	}
	for _, r := range reservations {
		items = append(items, store.DeleteDoc(ReservationsTable, store.KeyFor(r.ID())))
	}

	for start := 0; start < len(items); start += maxBatchItems {
		end := start + maxBatchItems
		if end > len(items) {
			end = len(items)
		}
		if err := e.store.Batch(ctx, items[start:end]); err != nil {
			if idx, ok := store.FailedConditionIndex(err); ok && start == 0 && idx == 0 {
				return store.ErrNotFound
			}
			return err
		}
	}

	e.logger.Info("book deleted with cascade",
		"bookId", id,
		"stocks", len(stocks),
		"reservations", len(reservations),
	)
	return nil
}

// AddStock creates a stock under a book and increments the book's
// stockCount, in one batch with no pre-read: the counter update's
// existence guard doubles as the parent check. Returns ErrBookNotFound if
// the book doesn't exist; either both writes land or neither does.
func (e *Engine) AddStock(ctx context.Context, bookID string, s Stock) (*Stock, error) {
	s.ID = uuid.NewString()
	s.BookID = bookID
	s.IsSold = false

	put, err := store.PutNew(&s)
	if err != nil {
		return nil, err
	}
	items := []types.TransactWriteItem{
		put,
		store.AddDelta(BooksTable, store.KeyFor(bookID), "stockCount", 1),
	}

	if err := e.store.Batch(ctx, items); err != nil {
		if idx, ok := store.FailedConditionIndex(err); ok {
			if idx == 1 {
				return nil, ErrBookNotFound
			}
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}
	return &s, nil
}

// UpdateStock merges fields into an existing stock. The bookId reference
// is immutable.
func (e *Engine) UpdateStock(ctx context.Context, id string, fields map[string]any) error {
	if err := rejectFields(fields, "bookId"); err != nil {
		return err
	}
	attrs, err := marshalFields(fields)
	if err != nil {
		return err
	}
	return e.store.Merge(ctx, StocksTable, store.KeyFor(id), attrs)
}

// DeleteStock deletes a stock and decrements the owning book's stockCount,
// in one transaction. The owning book is derived from the stock document
// itself, read inside the transaction; the caller-supplied bookID is
// cross-checked against it and a mismatch fails with ErrBookMismatch, so
// the wrong book's counter can never be decremented. The delete is guarded
// on the derived bookId, which also covers a concurrent delete of the same
// stock.
func (e *Engine) DeleteStock(ctx context.Context, bookID, id string) error {
	return e.store.Transact(ctx, func(ctx context.Context) ([]types.TransactWriteItem, error) {
		item, err := e.store.Get(ctx, StocksTable, store.KeyFor(id))
		if err != nil {
			return nil, err
		}
		owner := item.String("bookId")
		if owner != bookID {
			return nil, ErrBookMismatch
		}
		return []types.TransactWriteItem{
			store.DeleteOwned(StocksTable, store.KeyFor(id), owner),
			store.AddDelta(BooksTable, store.KeyFor(owner), "stockCount", -1),
		}, nil
	})
}

// UpdateReservation merges fields into an existing reservation. The bookId
// reference, cancellation flag, and denormalized title are immutable. A
// supplied password is replaced with its one-way hash before the merge;
// the plaintext is never persisted.
func (e *Engine) UpdateReservation(ctx context.Context, id string, fields map[string]any) error {
	if err := rejectFields(fields, "bookId", "isCancle", "title"); err != nil {
		return err
	}

	if raw, ok := fields["password"]; ok {
		plain, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: password must be a string", ErrInvalidField)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plain), e.hashCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fields["password"] = string(hash)
	}

	attrs, err := marshalFields(fields)
	if err != nil {
		return err
	}
	return e.store.Merge(ctx, ReservationsTable, store.KeyFor(id), attrs)
}

// CancelReservation transitions a reservation from active to cancelled and
// decrements the owning book's reservationCount, exactly once. The
// transition is one-way: an already-cancelled reservation fails with
// ErrAlreadyCancelled and no side effects. A missing reservation fails
// with ErrNotFound; a missing document is never read as active.
//
// Two concurrent cancels serialize on the cancellation flag's guard: the
// loser's commit is cancelled, its re-read observes the cancelled state,
// and it reports ErrAlreadyCancelled, so the counter decrements once.
func (e *Engine) CancelReservation(ctx context.Context, bookID, id string) error {
	return e.store.Transact(ctx, func(ctx context.Context) ([]types.TransactWriteItem, error) {
		item, err := e.store.Get(ctx, ReservationsTable, store.KeyFor(id))
		if err != nil {
			return nil, err
		}
		if cancelled, ok := item.Bool("isCancle"); ok && cancelled {
			return nil, ErrAlreadyCancelled
		}
		owner := item.String("bookId")
		if owner != bookID {
			return nil, ErrBookMismatch
		}
		return []types.TransactWriteItem{
			store.SetBoolGuarded(ReservationsTable, store.KeyFor(id), "isCancle", false, true),
			store.AddDelta(BooksTable, store.KeyFor(owner), "reservationCount", -1),
		}, nil
	})
}

// rejectFields fails with ErrForbiddenField if any named field is present.
func rejectFields(fields map[string]any, forbidden ...string) error {
	for _, name := range forbidden {
		if _, ok := fields[name]; ok {
			return fmt.Errorf("%w: %s", ErrForbiddenField, name)
		}
	}
	return nil
}

// marshalFields converts decoded JSON fields to store attributes.
func marshalFields(fields map[string]any) (map[string]types.AttributeValue, error) {
	attrs, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return attrs, nil
}
