package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/mongodb"
)

// NotificationQueueCollection holds queued notification rows
const NotificationQueueCollection = "notification_queue"

// NotificationRepository handles delivery queue data operations
type NotificationRepository struct {
	client *mongodb.MongoClient
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(client *mongodb.MongoClient) *NotificationRepository {
	return &NotificationRepository{client: client}
}

// EnsureIndexes creates the inbox and drain indexes
func (r *NotificationRepository) EnsureIndexes(ctx context.Context) error {
	return r.client.CreateIndexes(ctx, NotificationQueueCollection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created"),
		},
		{
			Keys:    bson.D{{Key: "sent", Value: 1}, {Key: "deliverable", Value: 1}, {Key: "scheduled_at", Value: 1}},
			Options: options.Index().SetName("due"),
		},
	})
}

// Create inserts a new queued notification
func (r *NotificationRepository) Create(ctx context.Context, n *domain.QueuedNotification) error {
	n.ID = primitive.NewObjectID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := r.client.Collection(NotificationQueueCollection).InsertOne(ctx, n)
	return err
}

// FindByID finds a user's queued notification
func (r *NotificationRepository) FindByID(ctx context.Context, userID, id string) (*domain.QueuedNotification, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var n domain.QueuedNotification
	err = r.client.Collection(NotificationQueueCollection).FindOne(ctx, bson.M{"_id": objectID, "user_id": userID}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindByUser lists a user's notifications, newest first
func (r *NotificationRepository) FindByUser(ctx context.Context, userID string, limit int, unsentOnly bool) ([]*domain.QueuedNotification, error) {
	filter := bson.M{"user_id": userID}
	if unsentOnly {
		filter["sent"] = false
	}

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.client.Collection(NotificationQueueCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	notifications := []*domain.QueuedNotification{}
	if err = cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// CountUnsent counts a user's notifications not yet marked sent
func (r *NotificationRepository) CountUnsent(ctx context.Context, userID string) (int64, error) {
	return r.client.Collection(NotificationQueueCollection).CountDocuments(ctx, bson.M{"user_id": userID, "sent": false})
}

// MarkSent flags one of the user's notifications as sent. Marking an
// already sent row is a no-op that returns the row unchanged.
func (r *NotificationRepository) MarkSent(ctx context.Context, userID, id string, at time.Time) (*domain.QueuedNotification, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	filter := bson.M{"_id": objectID, "user_id": userID, "sent": false}
	update := bson.M{"$set": bson.M{"sent": true, "sent_at": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var n domain.QueuedNotification
	err = r.client.Collection(NotificationQueueCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return r.FindByID(ctx, userID, id)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllSent flags every unsent notification of the user as sent
func (r *NotificationRepository) MarkAllSent(ctx context.Context, userID string, at time.Time) (int64, error) {
	filter := bson.M{"user_id": userID, "sent": false}
	update := bson.M{"$set": bson.M{"sent": true, "sent_at": at}}

	result, err := r.client.Collection(NotificationQueueCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// FindDue loads deliverable unsent rows scheduled at or before now,
// leaving out the rows of excludeUsers
func (r *NotificationRepository) FindDue(ctx context.Context, now time.Time, limit int, excludeUsers []string) ([]*domain.QueuedNotification, error) {
	filter := bson.M{
		"sent":         false,
		"deliverable":  true,
		"scheduled_at": bson.M{"$lte": now},
	}
	if len(excludeUsers) > 0 {
		filter["user_id"] = bson.M{"$nin": excludeUsers}
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "scheduled_at", Value: 1}})

	cursor, err := r.client.Collection(NotificationQueueCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	due := []*domain.QueuedNotification{}
	if err = cursor.All(ctx, &due); err != nil {
		return nil, err
	}
	return due, nil
}

// Claim atomically flips an unsent row to sent. It reports false when
// another worker or the user got there first.
func (r *NotificationRepository) Claim(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "sent": false}
	update := bson.M{"$set": bson.M{"sent": true, "sent_at": at}}

	result, err := r.client.Collection(NotificationQueueCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

// Release undoes a claim after a failed send
func (r *NotificationRepository) Release(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{"_id": id, "sent": true}
	update := bson.M{
		"$set":   bson.M{"sent": false},
		"$unset": bson.M{"sent_at": ""},
	}

	_, err := r.client.Collection(NotificationQueueCollection).UpdateOne(ctx, filter, update)
	return err
}
