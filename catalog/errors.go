package catalog

import "errors"

var (
	// ErrBookNotFound is returned when an operation references a book that
	// doesn't exist. Missing stocks and reservations surface the store's
	// ErrNotFound unchanged.
	ErrBookNotFound = errors.New("catalog: book not found")

	// ErrAlreadyCancelled is returned when cancelling a reservation that is
	// already cancelled. The cancellation transition is one-way and is
	// reported distinctly rather than silently succeeding again.
	ErrAlreadyCancelled = errors.New("catalog: reservation already cancelled")

	// ErrBookMismatch is returned when a caller-supplied bookId disagrees
	// with the bookId on the authoritative document.
	ErrBookMismatch = errors.New("catalog: document belongs to a different book")

	// ErrForbiddenField is returned when an update carries an
	// engine-managed or immutable field. The field guard rejects these
	// before the engine runs; the engine re-checks regardless.
	ErrForbiddenField = errors.New("catalog: forbidden field")

	// ErrInvalidField is returned when a field value has an unusable type,
	// such as a non-string password.
	ErrInvalidField = errors.New("catalog: invalid field value")
)
