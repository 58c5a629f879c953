package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/document"
)

// MongoConfig selects the database and collection holding documents.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore keeps one Mongo document per collaborative document, keyed by _id.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

var _ DocumentStore = (*MongoStore)(nil)

func NewMongo(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("store: mongo uri is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "synclink"
	}
	if cfg.Collection == "" {
		cfg.Collection = "docs"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("document store initialized",
		zap.String("driver", "mongo"),
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))

	return &MongoStore{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// fieldSet builds a bson document of every text field.
func fieldSet(doc *document.Document) bson.D {
	values := doc.Values()
	set := make(bson.D, 0, len(values))
	for i, name := range document.Fields {
		set = append(set, bson.E{Key: name, Value: values[i]})
	}
	return set
}

func (s *MongoStore) GetOrCreate(ctx context.Context, id string) (*document.Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	// $setOnInsert with upsert makes find-or-create a single atomic operation
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	update := bson.D{{Key: "$setOnInsert", Value: fieldSet(document.New(id))}}

	var doc document.Document
	if err := s.col.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("find or create document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *MongoStore) Upsert(ctx context.Context, doc *document.Document) error {
	if doc == nil || doc.ID == "" {
		return ErrNotFound
	}

	_, err := s.col.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		bson.D{{Key: "$set", Value: fieldSet(doc)}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	return s.col.CountDocuments(ctx, bson.D{})
}
