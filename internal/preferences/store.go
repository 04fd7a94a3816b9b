// Package preferences owns each user's notification configuration: one row
// per user, created lazily with defaults and changed by partial merges.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// ErrNoUser is returned when a caller has no identity
var ErrNoUser = errors.New("no authenticated user")

// ErrInvalidPreferences wraps validation failures of a merged row
var ErrInvalidPreferences = errors.New("invalid preferences")

// Repository persists preference rows
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.NotificationPreferences, error)
	CreateIfAbsent(ctx context.Context, prefs *domain.NotificationPreferences) (*domain.NotificationPreferences, error)
	Update(ctx context.Context, prefs *domain.NotificationPreferences) error
}

// Store serves preference rows through a short-lived read cache
type Store struct {
	repo  Repository
	cache *cache.Cache
	log   *logger.Logger
}

// NewStore creates a store. A ttl of zero disables caching.
func NewStore(repo Repository, ttl time.Duration, log *logger.Logger) *Store {
	s := &Store{repo: repo, log: log}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// Get returns the user's row, creating it with defaults on first access
func (s *Store) Get(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	if s.cache != nil {
		if cached, found := s.cache.Get(userID); found {
			return clone(cached.(*domain.NotificationPreferences)), nil
		}
	}

	prefs, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		prefs, err = s.repo.CreateIfAbsent(ctx, domain.DefaultPreferences(userID))
		if err == nil {
			s.log.Info("Created default notification preferences", "user_id", userID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for %s: %w", userID, err)
	}

	if s.cache != nil {
		s.cache.Set(userID, clone(prefs), cache.DefaultExpiration)
	}
	return prefs, nil
}

// Resolve returns the user's effective preferences for delivery decisions.
// It never fails: storage errors are logged and defaults are used.
func (s *Store) Resolve(ctx context.Context, userID string) domain.ResolvedPreferences {
	prefs, err := s.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNoUser) {
			s.log.Error("Falling back to default preferences", "user_id", userID, "error", err)
		}
		resolved := domain.ResolvePreferences(nil)
		resolved.UserID = userID
		return resolved
	}
	return domain.ResolvePreferences(prefs)
}

// Update merges patch into the user's row. Last write wins.
func (s *Store) Update(ctx context.Context, userID string, patch domain.PreferencesPatch) (*domain.NotificationPreferences, error) {
	prefs, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	patch.Apply(prefs)
	if err := prefs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}

	if err := s.repo.Update(ctx, prefs); err != nil {
		return nil, fmt.Errorf("failed to save preferences for %s: %w", userID, err)
	}

	if s.cache != nil {
		s.cache.Delete(userID)
	}
	s.log.Info("Updated notification preferences", "user_id", userID)
	return prefs, nil
}

func clone(p *domain.NotificationPreferences) *domain.NotificationPreferences {
	c := *p
	if p.DNDDays != nil {
		c.DNDDays = append([]int(nil), p.DNDDays...)
	}
	return &c
}
