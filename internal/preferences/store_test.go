package preferences

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

type fakeRepository struct {
	mu      sync.Mutex
	rows    map[string]*domain.NotificationPreferences
	reads   int
	creates int
	getErr  error
	saveErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{rows: map[string]*domain.NotificationPreferences{}}
}

func (f *fakeRepository) GetByUserID(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.getErr != nil {
		return nil, f.getErr
	}
	row, ok := f.rows[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *row
	return &c, nil
}

func (f *fakeRepository) CreateIfAbsent(ctx context.Context, prefs *domain.NotificationPreferences) (*domain.NotificationPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[prefs.UserID]; ok {
		c := *row
		return &c, nil
	}
	f.creates++
	c := *prefs
	f.rows[prefs.UserID] = &c
	return prefs, nil
}

func (f *fakeRepository) Update(ctx context.Context, prefs *domain.NotificationPreferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	c := *prefs
	f.rows[prefs.UserID] = &c
	return nil
}

// TestStoreGet_CreatesDefaultsLazily tests first access creates exactly one row
func TestStoreGet_CreatesDefaultsLazily(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, 0, logger.NewNop())
	ctx := context.Background()

	prefs, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", prefs.UserID)
	assert.True(t, *prefs.Enabled)
	assert.Equal(t, 1, repo.creates)

	_, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.creates, "second access reuses the row")
	assert.Len(t, repo.rows, 1)
}

// TestStoreGet_ConcurrentFirstAccess tests concurrent first reads converge on one row
func TestStoreGet_ConcurrentFirstAccess(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, 0, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Get(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, repo.creates)
}

// TestStoreGet_NoUser tests that an absent identity has no preferences
func TestStoreGet_NoUser(t *testing.T) {
	store := NewStore(newFakeRepository(), 0, logger.NewNop())

	_, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoUser)
}

// TestStoreResolve_StorageFailure tests fallback to defaults
func TestStoreResolve_StorageFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.getErr = errors.New("connection refused")
	store := NewStore(repo, 0, logger.NewNop())

	r := store.Resolve(context.Background(), "u1")
	assert.Equal(t, "u1", r.UserID)
	assert.True(t, r.Enabled)
	assert.True(t, r.GroupEnabled)
	assert.False(t, r.DNDEnabled)
}

// TestStoreResolve_ReadsStoredRow tests resolution of a stored row
func TestStoreResolve_ReadsStoredRow(t *testing.T) {
	repo := newFakeRepository()
	repo.rows["u1"] = &domain.NotificationPreferences{UserID: "u1", GroupEnabled: domain.Bool(false)}
	store := NewStore(repo, 0, logger.NewNop())

	r := store.Resolve(context.Background(), "u1")
	assert.False(t, r.GroupEnabled)
	assert.True(t, r.DMEnabled, "absent field resolves to default")
}

// TestStoreUpdate_PartialMerge tests that only patched fields change
func TestStoreUpdate_PartialMerge(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, time.Minute, logger.NewNop())
	ctx := context.Background()

	_, err := store.Update(ctx, "u1", domain.PreferencesPatch{SummaryEnabled: domain.Bool(true)})
	require.NoError(t, err)

	updated, err := store.Update(ctx, "u1", domain.PreferencesPatch{
		QuietHoursEnabled: domain.Bool(true),
		QuietHoursStart:   domain.String("23:00"),
	})
	require.NoError(t, err)
	assert.True(t, *updated.SummaryEnabled, "earlier patch is kept")
	assert.True(t, *updated.QuietHoursEnabled)
	assert.Equal(t, "23:00", *updated.QuietHoursStart)
	assert.Equal(t, domain.DefaultQuietHoursEnd, *updated.QuietHoursEnd)

	r := store.Resolve(ctx, "u1")
	assert.True(t, r.SummaryEnabled)
	assert.Equal(t, domain.TimeWindow{Start: 23 * 60, End: 7 * 60}, r.QuietHours)
}

// TestStoreUpdate_Invalid tests that invalid merges are rejected and not saved
func TestStoreUpdate_Invalid(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, 0, logger.NewNop())
	ctx := context.Background()

	_, err := store.Update(ctx, "u1", domain.PreferencesPatch{MaxPerHour: domain.Int(0)})
	assert.ErrorIs(t, err, ErrInvalidPreferences)

	_, err = store.Update(ctx, "u1", domain.PreferencesPatch{
		QuietHoursEnabled: domain.Bool(true),
		QuietHoursStart:   domain.String(""),
	})
	assert.ErrorIs(t, err, ErrInvalidPreferences)

	prefs, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxPerHour, *prefs.MaxPerHour)
	assert.False(t, *prefs.QuietHoursEnabled)
}

// TestStoreUpdate_SaveFailure tests that write failures reach the caller
func TestStoreUpdate_SaveFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.saveErr = errors.New("write concern timeout")
	store := NewStore(repo, 0, logger.NewNop())

	_, err := store.Update(context.Background(), "u1", domain.PreferencesPatch{DNDEnabled: domain.Bool(true)})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPreferences)
}

// TestStoreCache tests read-through caching and invalidation on update
func TestStoreCache(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, time.Minute, logger.NewNop())
	ctx := context.Background()

	first, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	readsAfterFirst := repo.reads

	first.Enabled = domain.Bool(false)
	cached, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, readsAfterFirst, repo.reads, "served from cache")
	assert.True(t, *cached.Enabled, "callers cannot mutate the cached row")

	_, err = store.Update(ctx, "u1", domain.PreferencesPatch{Enabled: domain.Bool(false)})
	require.NoError(t, err)

	after, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, *after.Enabled)
}
