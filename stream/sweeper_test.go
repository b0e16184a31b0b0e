package stream_test

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/carrel/catalog"
	"github.com/jacentio/carrel/store"
	"github.com/jacentio/carrel/store/storetest"
	"github.com/jacentio/carrel/stream"
)

func newHandler(t *testing.T) (*stream.Handler, *storetest.Fake) {
	t.Helper()
	fake := storetest.New(catalog.BooksTable, catalog.StocksTable, catalog.ReservationsTable)
	s := store.New(fake, store.DefaultConfig())
	return stream.NewHandler(s, nil), fake
}

func seedOrphan(fake *storetest.Fake, table, id, bookID string) {
	fake.Seed(table, map[string]types.AttributeValue{
		"id":     &types.AttributeValueMemberS{Value: id},
		"bookId": &types.AttributeValueMemberS{Value: bookID},
	})
}

func bookRemovalRecord(bookID string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   "evt-1",
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"id":         events.NewStringAttribute(bookID),
				"stockCount": events.NewNumberAttribute("2"),
			},
		},
	}
}

func TestHandleBookRemoved_SweepsOrphans(t *testing.T) {
	h, fake := newHandler(t)

	seedOrphan(fake, catalog.StocksTable, "s1", "b1")
	seedOrphan(fake, catalog.StocksTable, "s2", "b1")
	seedOrphan(fake, catalog.ReservationsTable, "r1", "b1")
	seedOrphan(fake, catalog.StocksTable, "s3", "other")

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{bookRemovalRecord("b1")}}
	if err := h.HandleBookRemoved(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, id := range []string{"s1", "s2"} {
		if fake.ItemFor(catalog.StocksTable, id) != nil {
			t.Errorf("expected orphan stock %s swept", id)
		}
	}
	if fake.ItemFor(catalog.ReservationsTable, "r1") != nil {
		t.Error("expected orphan reservation r1 swept")
	}
	// Another book's dependents are untouched.
	if fake.ItemFor(catalog.StocksTable, "s3") == nil {
		t.Error("expected s3 to survive")
	}
}

func TestHandleBookRemoved_NoOrphans(t *testing.T) {
	h, _ := newHandler(t)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{bookRemovalRecord("b1")}}
	if err := h.HandleBookRemoved(context.Background(), event); err != nil {
		t.Errorf("expected nil for a clean removal, got %v", err)
	}
}

func TestHandleBookRemoved_IgnoresModify(t *testing.T) {
	h, fake := newHandler(t)
	seedOrphan(fake, catalog.StocksTable, "s1", "b1")

	record := bookRemovalRecord("b1")
	record.EventName = "MODIFY"
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}

	if err := h.HandleBookRemoved(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if fake.ItemFor(catalog.StocksTable, "s1") == nil {
		t.Error("MODIFY records must not sweep")
	}
}

func TestHandleBookRemoved_IgnoresNonBookRecords(t *testing.T) {
	h, fake := newHandler(t)
	seedOrphan(fake, catalog.StocksTable, "s1", "b1")

	// A stock removal carries no stockCount attribute.
	record := events.DynamoDBEventRecord{
		EventID:   "evt-2",
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"id":     events.NewStringAttribute("s9"),
				"bookId": events.NewStringAttribute("b1"),
			},
		},
	}
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}

	if err := h.HandleBookRemoved(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if fake.ItemFor(catalog.StocksTable, "s1") == nil {
		t.Error("non-book records must not sweep")
	}
}

func TestHandleBookRemoved_MissingID(t *testing.T) {
	h, fake := newHandler(t)
	seedOrphan(fake, catalog.StocksTable, "s1", "b1")

	record := events.DynamoDBEventRecord{
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"stockCount": events.NewNumberAttribute("0"),
			},
		},
	}
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}

	if err := h.HandleBookRemoved(context.Background(), event); err != nil {
		t.Errorf("expected nil for a record without an id, got %v", err)
	}
	if fake.ItemFor(catalog.StocksTable, "s1") == nil {
		t.Error("records without an id must not sweep")
	}
}
