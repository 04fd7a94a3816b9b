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

const preferencesCollection = "notification_preferences"

// PreferencesRepository handles notification preferences data operations
type PreferencesRepository struct {
	client *mongodb.MongoClient
}

// NewPreferencesRepository creates a new preferences repository
func NewPreferencesRepository(client *mongodb.MongoClient) *PreferencesRepository {
	return &PreferencesRepository{client: client}
}

// EnsureIndexes creates the unique per-user index
func (r *PreferencesRepository) EnsureIndexes(ctx context.Context) error {
	return r.client.CreateIndexes(ctx, preferencesCollection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_user_id"),
		},
	})
}

// GetByUserID retrieves preferences for a specific user
func (r *PreferencesRepository) GetByUserID(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	var prefs domain.NotificationPreferences
	err := r.client.Collection(preferencesCollection).FindOne(ctx, bson.M{"user_id": userID}).Decode(&prefs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

// CreateIfAbsent inserts prefs unless the user already has a row, and
// returns whichever row is stored. Concurrent callers converge on one row.
func (r *PreferencesRepository) CreateIfAbsent(ctx context.Context, prefs *domain.NotificationPreferences) (*domain.NotificationPreferences, error) {
	now := time.Now()
	prefs.CreatedAt = now
	prefs.UpdatedAt = now

	filter := bson.M{"user_id": prefs.UserID}
	update := bson.M{"$setOnInsert": prefs}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored domain.NotificationPreferences
	err := r.client.Collection(preferencesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race on the unique index; the winner's row is there now
		return r.GetByUserID(ctx, prefs.UserID)
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Update replaces the user's row, creating it when missing
func (r *PreferencesRepository) Update(ctx context.Context, prefs *domain.NotificationPreferences) error {
	prefs.UpdatedAt = time.Now()
	if prefs.CreatedAt.IsZero() {
		prefs.CreatedAt = prefs.UpdatedAt
	}

	// Replace rather than $set so cleared optional fields are removed
	filter := bson.M{"user_id": prefs.UserID}
	opts := options.Replace().SetUpsert(true)

	_, err := r.client.Collection(preferencesCollection).ReplaceOne(ctx, filter, prefs, opts)
	return err
}
