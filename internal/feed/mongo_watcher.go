package feed

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// MongoWatcher publishes notification_queue change stream events. It needs a
// replica set and lets every instance see rows written by the others.
type MongoWatcher struct {
	collection *mongo.Collection
	publisher  Publisher
	log        *logger.Logger
	retryDelay time.Duration
}

// NewMongoWatcher creates a watcher for the given collection
func NewMongoWatcher(collection *mongo.Collection, publisher Publisher, log *logger.Logger) *MongoWatcher {
	return &MongoWatcher{
		collection: collection,
		publisher:  publisher,
		log:        log,
		retryDelay: 2 * time.Second,
	}
}

type changeEvent struct {
	OperationType string                     `bson:"operationType"`
	FullDocument  *domain.QueuedNotification `bson:"fullDocument"`
	DocumentKey   struct {
		ID primitive.ObjectID `bson:"_id"`
	} `bson:"documentKey"`
}

// Run watches until ctx is cancelled, resuming after stream errors
func (w *MongoWatcher) Run(ctx context.Context) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}}},
	}

	var resumeToken bson.Raw
	for {
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if resumeToken != nil {
			opts.SetResumeAfter(resumeToken)
		}

		stream, err := w.collection.Watch(ctx, pipeline, opts)
		if err != nil {
			w.log.Error("Failed to open change stream", "error", err)
		} else {
			w.log.Info("Watching notification queue changes")
			resumeToken = w.consume(ctx, stream, resumeToken)
		}

		select {
		case <-ctx.Done():
			w.log.Info("Change stream watcher stopped")
			return
		case <-time.After(w.retryDelay):
		}
	}
}

func (w *MongoWatcher) consume(ctx context.Context, stream *mongo.ChangeStream, token bson.Raw) bson.Raw {
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var event changeEvent
		if err := stream.Decode(&event); err != nil {
			w.log.Error("Failed to decode change event", "error", err)
			continue
		}
		token = stream.ResumeToken()

		if c, ok := toChange(event); ok {
			w.publisher.Publish(c)
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		w.log.Warn("Change stream interrupted", "error", err)
	}
	return token
}

func toChange(event changeEvent) (Change, bool) {
	switch event.OperationType {
	case "insert":
		if event.FullDocument == nil {
			return Change{}, false
		}
		return Change{Op: OpInsert, UserID: event.FullDocument.UserID, Notification: event.FullDocument}, true
	case "update", "replace":
		if event.FullDocument == nil {
			return Change{}, false
		}
		return Change{Op: OpUpdate, UserID: event.FullDocument.UserID, Notification: event.FullDocument}, true
	case "delete":
		// The owner is unknown once the row is gone; only wildcard listeners see it
		return Change{Op: OpDelete, Notification: &domain.QueuedNotification{ID: event.DocumentKey.ID}}, true
	}
	return Change{}, false
}
