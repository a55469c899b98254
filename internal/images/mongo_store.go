package images

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type entryDocument struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	SketchImage    string    `bson:"sketch_image"`
	GeneratedImage string    `bson:"generated_image"`
	CreatedAt      time.Time `bson:"created_at"`
}

// MongoStore implements Store on a MongoDB collection indexed by user_id and created_at.
type MongoStore struct {
	collection *mongo.Collection
	idProvider IDProvider
	clock      func() time.Time
}

// NewMongoStore constructs a MongoStore.
func NewMongoStore(collection *mongo.Collection, idProvider IDProvider, clock func() time.Time) (*MongoStore, error) {
	if collection == nil {
		return nil, errMissingCollection
	}
	if idProvider == nil {
		return nil, errMissingIDProvider
	}
	if clock == nil {
		clock = time.Now
	}
	return &MongoStore{collection: collection, idProvider: idProvider, clock: clock}, nil
}

func (s *MongoStore) Create(ctx context.Context, entry Entry) (Entry, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Entry{}, unavailable("images.mongo.create", err)
	}
	entry.ID = id
	entry.CreatedAt = s.clock().UTC().Truncate(time.Millisecond)

	if _, err := s.collection.InsertOne(ctx, entryDocument(entry)); err != nil {
		return Entry{}, unavailable("images.mongo.create", err)
	}
	return entry, nil
}

func (s *MongoStore) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.collection.Find(ctx, bson.M{"user_id": strings.TrimSpace(userID)}, findOptions)
	if err != nil {
		return nil, unavailable("images.mongo.list", err)
	}
	var documents []entryDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, unavailable("images.mongo.list", err)
	}
	entries := make([]Entry, 0, len(documents))
	for _, document := range documents {
		entry := Entry(document)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *MongoStore) DeleteOwned(ctx context.Context, userID, entryID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{
		"_id":     strings.TrimSpace(entryID),
		"user_id": strings.TrimSpace(userID),
	})
	if err != nil {
		return unavailable("images.mongo.delete", err)
	}
	if result.DeletedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}
