// Package stream provides a DynamoDB Streams handler that sweeps orphaned
// catalog documents.
//
// Deleting a book queries its dependents and removes them in the same
// batch, but a stock or reservation created between that query and the
// batch commit is missed and left referencing a dead book. The sweeper
// closes that window: on every book removal it re-queries both dependent
// tables and deletes whatever is still there. Idempotent by construction.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/carrel/catalog"
	"github.com/jacentio/carrel/store"
)

// Handler processes DynamoDB stream events for orphan sweeping.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleBookRemoved processes DynamoDB stream events from the books table.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleBookRemoved(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord sweeps the dependents of a single removed book.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	// Book documents are the only ones carrying the stockCount counter;
	// stream records from other tables are ignored.
	if _, ok := record.Change.OldImage["stockCount"]; !ok {
		return nil
	}
	bookID := getStringAttr(record.Change.OldImage, "id")
	if bookID == "" {
		return nil
	}

	swept := 0
	for _, table := range []string{catalog.StocksTable, catalog.ReservationsTable} {
		orphans, err := h.store.QueryByBook(ctx, table, bookID)
		if err != nil {
			return fmt.Errorf("query %s: %w", table, err)
		}
		for _, orphan := range orphans {
			if err := h.store.DeleteByKey(ctx, table, store.KeyFor(orphan.ID())); err != nil {
				h.logger.Warn("failed to delete orphan",
					"table", table,
					"id", orphan.ID(),
					"error", err,
				)
				continue // idempotent, the stream will retry
			}
			swept++
		}
	}

	if swept > 0 {
		h.logger.Info("swept orphaned documents",
			"bookId", bookID,
			"count", swept,
		)
	}
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
