package database

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/images"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const mongoConnectTimeout = 10 * time.Second

// OpenMongo connects to MongoDB, verifies the connection, and ensures the indexes the
// stores rely on for uniqueness and ordering. Callers disconnect via Database.Client().
func OpenMongo(ctx context.Context, uri, databaseName string, logger *zap.Logger) (*mongo.Database, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if databaseName == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	database := client.Database(databaseName)
	if err := ensureMongoIndexes(connectCtx, database); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", "mongo"), zap.String("database", databaseName))
	return database, nil
}

func ensureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(users.DefaultCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_users_email").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "federated_id", Value: 1}},
			Options: options.Index().SetName("uniq_users_federated_id").SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	_, err = database.Collection(images.DefaultCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("idx_image_history_user_created"),
	})
	if err != nil {
		return fmt.Errorf("image history indexes: %w", err)
	}
	return nil
}
