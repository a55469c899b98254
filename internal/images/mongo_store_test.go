package images

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoStoreListsAndDeletesByOwner(t *testing.T) {
	uri := os.Getenv("JEWELSKETCH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("JEWELSKETCH_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	database := client.Database(fmt.Sprint("jewelsketch_test_", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = database.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	clock := &steppingClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	store, err := NewMongoStore(database.Collection(DefaultCollectionName), &sequenceIDProvider{}, clock.Now)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	entry := Entry{UserID: "user-1", SketchImage: "data:image/png;base64,AA==", GeneratedImage: "data:image/png;base64,AA=="}
	first, err := store.Create(ctx, entry)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := store.Create(ctx, entry)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	entries, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != second.ID || entries[1].ID != first.ID {
		t.Fatalf("expected newest first [%s %s], got %+v", second.ID, first.ID, entries)
	}

	if err := store.DeleteOwned(ctx, "user-2", first.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for another owner, got %v", err)
	}
	if err := store.DeleteOwned(ctx, "user-1", first.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}
