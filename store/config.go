package store

// Config holds configuration for the Store.
type Config struct {
	// ByBookIndex is the name of the GSI on dependent tables keyed by bookId.
	// Default: "bookId-index"
	ByBookIndex string

	// MaxTxAttempts is the number of times a Transact body is re-run after
	// an optimistic conflict before giving up with ErrTransient.
	// Default: 5
	MaxTxAttempts int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ByBookIndex:   "bookId-index",
		MaxTxAttempts: 5,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.ByBookIndex == "" {
		c.ByBookIndex = "bookId-index"
	}
	if c.MaxTxAttempts < 1 {
		c.MaxTxAttempts = 5
	}
}
