package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// DefaultCollectionName is the MongoDB collection holding users.
const DefaultCollectionName = "users"

const (
	opMongoFindByID          = "users.mongo.find_by_id"
	opMongoFindByEmail       = "users.mongo.find_by_email"
	opMongoFindByFederatedID = "users.mongo.find_by_federated_id"
	opMongoCreate            = "users.mongo.create"
	opMongoUpdate            = "users.mongo.update"
)

var errMissingCollection = errors.New("mongo collection is required")

type userDocument struct {
	ID               string    `bson:"_id"`
	Name             string    `bson:"name"`
	Email            string    `bson:"email"`
	PasswordHash     string    `bson:"password_hash,omitempty"`
	FederatedID      string    `bson:"federated_id,omitempty"`
	PhotoData        string    `bson:"photo_data,omitempty"`
	PhotoContentType string    `bson:"photo_content_type,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

// MongoStoreConfig describes the dependencies of a MongoStore.
type MongoStoreConfig struct {
	Collection *mongo.Collection
	IDProvider IDProvider
	Clock      func() time.Time
}

// MongoStore implements Store on a MongoDB collection. The collection needs a unique index on
// email and a sparse unique index on federated_id.
type MongoStore struct {
	collection *mongo.Collection
	idProvider IDProvider
	clock      func() time.Time
}

// NewMongoStore constructs a MongoStore.
func NewMongoStore(cfg MongoStoreConfig) (*MongoStore, error) {
	if cfg.Collection == nil {
		return nil, errMissingCollection
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MongoStore{collection: cfg.Collection, idProvider: cfg.IDProvider, clock: clock}, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, opMongoFindByID, bson.M{"_id": strings.TrimSpace(id)})
}

func (s *MongoStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, opMongoFindByEmail, bson.M{"email": NormalizeEmail(email)})
}

func (s *MongoStore) FindByFederatedID(ctx context.Context, subject string) (User, error) {
	return s.findOne(ctx, opMongoFindByFederatedID, bson.M{"federated_id": strings.TrimSpace(subject)})
}

func (s *MongoStore) findOne(ctx context.Context, operation string, filter bson.M) (User, error) {
	for _, value := range filter {
		if value == "" {
			return User{}, ErrNotFound
		}
	}
	var document userDocument
	if err := s.collection.FindOne(ctx, filter).Decode(&document); err != nil {
		return User{}, classifyMongoError(operation, err)
	}
	return document.toUser()
}

func (s *MongoStore) Create(ctx context.Context, user User) (User, error) {
	if err := validateForWrite(user); err != nil {
		return User{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, unavailable(opMongoCreate, err)
	}
	now := s.clock().UTC().Truncate(time.Millisecond)
	user.ID = id
	user.Email = NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	document, err := newUserDocument(user)
	if err != nil {
		return User{}, err
	}
	if _, err := s.collection.InsertOne(ctx, document); err != nil {
		return User{}, classifyMongoError(opMongoCreate, err)
	}
	return user, nil
}

func (s *MongoStore) Update(ctx context.Context, user User) (User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return User{}, fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	if err := validateForWrite(user); err != nil {
		return User{}, err
	}
	user.Email = NormalizeEmail(user.Email)
	user.UpdatedAt = s.clock().UTC().Truncate(time.Millisecond)

	document, err := newUserDocument(user)
	if err != nil {
		return User{}, err
	}

	set := bson.M{
		"name":       document.Name,
		"email":      document.Email,
		"updated_at": document.UpdatedAt,
	}
	unset := bson.M{}
	assignOptional(set, unset, "password_hash", document.PasswordHash)
	assignOptional(set, unset, "federated_id", document.FederatedID)
	assignOptional(set, unset, "photo_data", document.PhotoData)
	assignOptional(set, unset, "photo_content_type", document.PhotoContentType)

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	result, err := s.collection.UpdateByID(ctx, user.ID, update)
	if err != nil {
		return User{}, classifyMongoError(opMongoUpdate, err)
	}
	if result.MatchedCount == 0 {
		return User{}, ErrNotFound
	}
	return user, nil
}

// assignOptional unsets empty fields so the sparse federated_id index never sees a null.
func assignOptional(set, unset bson.M, field, value string) {
	if value == "" {
		unset[field] = ""
		return
	}
	set[field] = value
}

func newUserDocument(user User) (userDocument, error) {
	hash, subject, err := credentialParts(user.Credential)
	if err != nil {
		return userDocument{}, fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}
	document := userDocument{
		ID:           user.ID,
		Name:         strings.TrimSpace(user.Name),
		Email:        user.Email,
		PasswordHash: hash,
		FederatedID:  subject,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if user.ProfilePhoto != nil {
		document.PhotoData = user.ProfilePhoto.Data
		document.PhotoContentType = user.ProfilePhoto.ContentType
	}
	return document, nil
}

func (d userDocument) toUser() (User, error) {
	credential, err := credentialFromParts(d.PasswordHash, d.FederatedID)
	if err != nil {
		return User{}, unavailable("users.mongo.decode", fmt.Errorf("user %s: %w", d.ID, err))
	}
	user := User{
		ID:         d.ID,
		Name:       d.Name,
		Email:      d.Email,
		Credential: credential,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
	if d.PhotoData != "" {
		user.ProfilePhoto = &ProfilePhoto{Data: d.PhotoData, ContentType: d.PhotoContentType}
	}
	return user, nil
}

func classifyMongoError(operation string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	default:
		return unavailable(operation, err)
	}
}
