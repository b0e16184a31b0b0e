// Package catalog implements the library catalog's consistency engine:
// books, their physical stocks, and reservations, with the derived
// stockCount/reservationCount counters kept in sync with the dependent
// collections through atomic store operations.
package catalog

import (
	"github.com/jacentio/carrel/store"
)

// Collection names. Dependent tables carry a GSI on bookId for cascade
// queries (store.Config.ByBookIndex).
const (
	BooksTable        = "books"
	StocksTable       = "stocks"
	ReservationsTable = "reservations"
)

// Book is the root entity. StockCount and ReservationCount are derived
// counters maintained by the engine; they are never caller-editable.
type Book struct {
	ID               string `dynamodbav:"id" json:"id"`
	Title            string `dynamodbav:"title" json:"title"`
	Publisher        string `dynamodbav:"publisher" json:"publisher"`
	Author           string `dynamodbav:"author" json:"author"`
	StockCount       int    `dynamodbav:"stockCount" json:"stockCount"`
	ReservationCount int    `dynamodbav:"reservationCount" json:"reservationCount"`
}

func (b Book) TableName() string { return BooksTable }
func (b Book) GetKey() store.PK  { return store.KeyFor(b.ID) }

// Stock is one physical copy of a book. BookID is set once at creation and
// is immutable for the stock's lifetime.
type Stock struct {
	ID        string `dynamodbav:"id" json:"id"`
	BookID    string `dynamodbav:"bookId" json:"bookId"`
	Name      string `dynamodbav:"name" json:"name"`
	StudentID string `dynamodbav:"studentId" json:"studentId"`
	Price     int    `dynamodbav:"price" json:"price"`
	State     string `dynamodbav:"state" json:"state"`
	IsSold    bool   `dynamodbav:"isSold" json:"isSold"`
}

func (s Stock) TableName() string { return StocksTable }
func (s Stock) GetKey() store.PK  { return store.KeyFor(s.ID) }

// Reservation binds a stock of a book to a borrower. Title is the book
// title denormalized at reservation time. Password holds only a one-way
// hash. The cancellation flag keeps the wire spelling "isCancle" of the
// stored schema; once true it never becomes false.
type Reservation struct {
	ID        string `dynamodbav:"id" json:"id"`
	BookID    string `dynamodbav:"bookId" json:"bookId"`
	Title     string `dynamodbav:"title" json:"title"`
	Name      string `dynamodbav:"name" json:"name"`
	StudentID string `dynamodbav:"studentId" json:"studentId"`
	Password  string `dynamodbav:"password" json:"-"`
	IsCancle  bool   `dynamodbav:"isCancle" json:"isCancle"`
}

func (r Reservation) TableName() string { return ReservationsTable }
func (r Reservation) GetKey() store.PK  { return store.KeyFor(r.ID) }
