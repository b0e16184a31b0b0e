package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist.
	ErrNotFound = errors.New("carrel: document not found")

	// ErrAlreadyExists is returned when attempting to create a document with an existing id.
	ErrAlreadyExists = errors.New("carrel: document already exists")

	// ErrTransient is returned when a transaction exhausts its conflict retries.
	ErrTransient = errors.New("carrel: transaction retries exhausted")
)
