package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"antow-bot/internal/models"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Subscriber{}, &models.ApprovalRequest{}))
	return db
}

func newTestSubscribers(t *testing.T) *GormSubscribers {
	s := NewSubscribers(newTestDB(t))
	s.now = func() time.Time { return testNow }
	return s
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	s := newTestSubscribers(t)
	ctx := context.Background()

	require.NoError(t, s.CreateIfAbsent(ctx, Profile{TelegramID: 42, FirstName: "Anton", Username: "anton"}))
	require.NoError(t, s.CreateIfAbsent(ctx, Profile{TelegramID: 42, FirstName: "Someone", Username: "else"}))

	var count int64
	require.NoError(t, s.db.Model(&models.Subscriber{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	sub, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Anton", sub.FirstName, "fields from the first creation win")
	assert.Equal(t, "anton", sub.Username)
	assert.False(t, sub.IsSubscribed)
	assert.Nil(t, sub.SubscriptionExpiresAt)
}

func TestGetUnknownSubscriber(t *testing.T) {
	s := newTestSubscribers(t)

	_, err := s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetSubscriptionRoundTrip(t *testing.T) {
	s := newTestSubscribers(t)
	ctx := context.Background()
	require.NoError(t, s.CreateIfAbsent(ctx, Profile{TelegramID: 42}))

	expiresAt := testNow.Add(30 * 24 * time.Hour)
	require.NoError(t, s.SetSubscription(ctx, 42, true, &expiresAt))

	sub, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, sub.IsSubscribed)
	require.NotNil(t, sub.SubscriptionExpiresAt)
	assert.True(t, expiresAt.Equal(*sub.SubscriptionExpiresAt))

	// Revoke clears the expiry entirely.
	require.NoError(t, s.SetSubscription(ctx, 42, false, nil))
	sub, err = s.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, sub.IsSubscribed)
	assert.Nil(t, sub.SubscriptionExpiresAt)
}

func seedSubscriber(t *testing.T, s *GormSubscribers, id int64, subscribed bool, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, s.CreateIfAbsent(context.Background(), Profile{TelegramID: id}))
	if subscribed || expiresAt != nil {
		require.NoError(t, s.SetSubscription(context.Background(), id, subscribed, expiresAt))
	}
}

func ptr(ts time.Time) *time.Time { return &ts }

func TestListExpiringWithin(t *testing.T) {
	s := newTestSubscribers(t)
	ctx := context.Background()

	seedSubscriber(t, s, 1, true, ptr(testNow.Add(2*24*time.Hour)))  // inside window
	seedSubscriber(t, s, 2, true, ptr(testNow.Add(10*24*time.Hour))) // outside window
	seedSubscriber(t, s, 3, true, ptr(testNow.Add(-time.Hour)))      // already expired, still listed
	seedSubscriber(t, s, 4, false, nil)                              // never subscribed

	subs, err := s.ListExpiringWithin(ctx, 3)
	require.NoError(t, err)

	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.TelegramID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestListExpired(t *testing.T) {
	s := newTestSubscribers(t)
	ctx := context.Background()

	seedSubscriber(t, s, 1, true, ptr(testNow.Add(-time.Hour)))
	seedSubscriber(t, s, 2, true, ptr(testNow.Add(24*time.Hour)))
	seedSubscriber(t, s, 3, false, nil)

	subs, err := s.ListExpired(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1), subs[0].TelegramID)
}

func TestAggregateCounts(t *testing.T) {
	s := newTestSubscribers(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		seedSubscriber(t, s, i, true, ptr(testNow.Add(10*24*time.Hour)))
	}
	seedSubscriber(t, s, 5, true, ptr(testNow.Add(-time.Hour))) // expired does not count as active
	for i := int64(6); i <= 10; i++ {
		seedSubscriber(t, s, i, false, nil)
	}

	counts, err := s.AggregateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 10, Active: 4}, counts)
}
