package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/mongodb"
)

const pushSubscriptionsCollection = "push_subscriptions"

// PushSubscriptionRepository handles push subscription data operations.
// Records are deactivated, never deleted.
type PushSubscriptionRepository struct {
	client *mongodb.MongoClient
}

// NewPushSubscriptionRepository creates a new push subscription repository
func NewPushSubscriptionRepository(client *mongodb.MongoClient) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{client: client}
}

// EnsureIndexes creates the (user_id, endpoint) uniqueness index
func (r *PushSubscriptionRepository) EnsureIndexes(ctx context.Context) error {
	return r.client.CreateIndexes(ctx, pushSubscriptionsCollection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "endpoint", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_user_endpoint"),
		},
		{
			Keys:    bson.D{{Key: "endpoint", Value: 1}},
			Options: options.Index().SetName("endpoint"),
		},
	})
}

// Upsert stores an active subscription keyed by (user_id, endpoint)
func (r *PushSubscriptionRepository) Upsert(ctx context.Context, sub *domain.PushSubscription) (*domain.PushSubscription, error) {
	now := time.Now()
	filter := bson.M{"user_id": sub.UserID, "endpoint": sub.Endpoint}
	update := bson.M{
		"$set": bson.M{
			"keys":         sub.Keys,
			"device_info":  sub.DeviceInfo,
			"active":       true,
			"last_used_at": now,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored domain.PushSubscription
	if err := r.client.Collection(pushSubscriptionsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// FindActiveByUser lists the user's active subscriptions
func (r *PushSubscriptionRepository) FindActiveByUser(ctx context.Context, userID string) ([]*domain.PushSubscription, error) {
	cursor, err := r.client.Collection(pushSubscriptionsCollection).Find(ctx, bson.M{"user_id": userID, "active": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	subs := []*domain.PushSubscription{}
	if err = cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// FindByEndpoint finds the user's subscription for one device endpoint
func (r *PushSubscriptionRepository) FindByEndpoint(ctx context.Context, userID, endpoint string) (*domain.PushSubscription, error) {
	var sub domain.PushSubscription
	err := r.client.Collection(pushSubscriptionsCollection).FindOne(ctx, bson.M{"user_id": userID, "endpoint": endpoint}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Deactivate marks the user's subscriptions inactive. An empty endpoint
// deactivates every device of the user.
func (r *PushSubscriptionRepository) Deactivate(ctx context.Context, userID, endpoint string) (int64, error) {
	filter := bson.M{"user_id": userID, "active": true}
	if endpoint != "" {
		filter["endpoint"] = endpoint
	}
	update := bson.M{"$set": bson.M{"active": false, "updated_at": time.Now()}}

	result, err := r.client.Collection(pushSubscriptionsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// Touch records a successful delivery through the subscription
func (r *PushSubscriptionRepository) Touch(ctx context.Context, userID, endpoint string, at time.Time) error {
	filter := bson.M{"user_id": userID, "endpoint": endpoint}
	update := bson.M{"$set": bson.M{"last_used_at": at}}

	_, err := r.client.Collection(pushSubscriptionsCollection).UpdateOne(ctx, filter, update)
	return err
}
