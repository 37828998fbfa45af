package report

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSink 报告写入集合
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoSink 连接 mongo，由调用方 Close
func NewMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Name sink 名称
func (s *MongoSink) Name() string { return "mongo" }

// Publish 插入报告并回填 _id
func (s *MongoSink) Publish(ctx context.Context, r *Report) error {
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	_, err := s.collection.InsertOne(ctx, r)
	return err
}

// Close 断开 mongo 连接
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
