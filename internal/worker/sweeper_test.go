package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"antow-bot/internal/lifecycle"
	"antow-bot/internal/models"
	"antow-bot/internal/store"
)

const adminID int64 = 1000

type sentMessage struct {
	userID   int64
	text     string
	keyboard *telego.InlineKeyboardMarkup
}

type fakeNotifier struct {
	messages  []sentMessage
	evicted   []int64
	invites   int
	evictErr  error
	notifyErr error
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, text string, keyboard *telego.InlineKeyboardMarkup) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.messages = append(f.messages, sentMessage{userID: userID, text: text, keyboard: keyboard})
	return nil
}

func (f *fakeNotifier) NotifyPhoto(_ context.Context, userID int64, _, caption string, keyboard *telego.InlineKeyboardMarkup) (int, error) {
	f.messages = append(f.messages, sentMessage{userID: userID, text: caption, keyboard: keyboard})
	return 1, nil
}

func (f *fakeNotifier) IssueSingleUseInvite(_ context.Context, _ time.Duration) (string, error) {
	f.invites++
	return fmt.Sprintf("https://t.me/+invite%d", f.invites), nil
}

func (f *fakeNotifier) Evict(_ context.Context, userID int64) error {
	if f.evictErr != nil {
		return f.evictErr
	}
	f.evicted = append(f.evicted, userID)
	return nil
}

func (f *fakeNotifier) StripControls(_ context.Context, _ int64, _ int) error {
	return nil
}

func (f *fakeNotifier) messagesTo(userID int64) []sentMessage {
	var out []sentMessage
	for _, m := range f.messages {
		if m.userID == userID {
			out = append(out, m)
		}
	}
	return out
}

func newTestStore(t *testing.T) *store.GormSubscribers {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Subscriber{}, &models.ApprovalRequest{}))
	return store.NewSubscribers(db)
}

func newTestSweeper(subs store.Subscribers, notifier *fakeNotifier) *Sweeper {
	return NewSweeper(subs, notifier, lifecycle.DefaultEngine(), nil, adminID, 500, "0 12 * * *", "0 10 * * 0")
}

func seed(t *testing.T, subs store.Subscribers, id int64, subscribed bool, expiresAt *time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, subs.CreateIfAbsent(ctx, store.Profile{TelegramID: id}))
	if subscribed || expiresAt != nil {
		require.NoError(t, subs.SetSubscription(ctx, id, subscribed, expiresAt))
	}
}

func ptr(ts time.Time) *time.Time { return &ts }

func TestRunDailySendsReminders(t *testing.T) {
	subs := newTestStore(t)
	notifier := &fakeNotifier{}
	s := newTestSweeper(subs, notifier)

	seed(t, subs, 1, true, ptr(time.Now().Add(2*24*time.Hour)))  // in the window
	seed(t, subs, 2, true, ptr(time.Now().Add(10*24*time.Hour))) // not yet
	seed(t, subs, 3, false, nil)

	failed := s.RunDaily(context.Background())
	assert.Zero(t, failed)

	reminders := notifier.messagesTo(1)
	require.Len(t, reminders, 1)
	assert.Contains(t, reminders[0].text, "истекает")
	assert.Empty(t, notifier.messagesTo(2))
	assert.Empty(t, notifier.evicted)

	sub, err := subs.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, sub.IsSubscribed, "reminders are advisory and change no state")
}

func TestRunDailyRemindersRepeatAcrossSweeps(t *testing.T) {
	subs := newTestStore(t)
	notifier := &fakeNotifier{}
	s := newTestSweeper(subs, notifier)

	seed(t, subs, 1, true, ptr(time.Now().Add(2*24*time.Hour)))

	s.RunDaily(context.Background())
	s.RunDaily(context.Background())

	assert.Len(t, notifier.messagesTo(1), 2, "each sweep re-evaluates and re-sends")
}

func TestRunDailyRevokesExpired(t *testing.T) {
	subs := newTestStore(t)
	notifier := &fakeNotifier{}
	s := newTestSweeper(subs, notifier)

	seed(t, subs, 1, true, ptr(time.Now().Add(-time.Hour)))

	failed := s.RunDaily(context.Background())
	assert.Zero(t, failed)

	sub, err := subs.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sub.IsSubscribed)
	assert.Nil(t, sub.SubscriptionExpiresAt)

	assert.Equal(t, []int64{1}, notifier.evicted)
	msgs := notifier.messagesTo(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "истекла")
}

func TestRevokePersistsStateEvenWhenEvictionFails(t *testing.T) {
	subs := newTestStore(t)
	notifier := &fakeNotifier{evictErr: errors.New("bot is not admin")}
	s := newTestSweeper(subs, notifier)

	seed(t, subs, 1, true, ptr(time.Now().Add(-time.Hour)))

	failed := s.RunDaily(context.Background())
	assert.Zero(t, failed, "eviction failure is escalated, not counted as a sweep failure")

	sub, err := subs.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sub.IsSubscribed, "state correction stands regardless of the eviction outcome")
	assert.Nil(t, sub.SubscriptionExpiresAt)

	alerts := notifier.messagesTo(adminID)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].text, "Ошибка при удалении")
	assert.Empty(t, notifier.messagesTo(1), "user notification is skipped when eviction fails")
}

// failingSubscribers breaks Get for one id to exercise failure isolation.
type failingSubscribers struct {
	store.Subscribers
	failID int64
}

func (f *failingSubscribers) Get(ctx context.Context, telegramID int64) (models.Subscriber, error) {
	if telegramID == f.failID {
		return models.Subscriber{}, errors.New("connection reset")
	}
	return f.Subscribers.Get(ctx, telegramID)
}

func TestRunDailyIsolatesPerSubscriberFailures(t *testing.T) {
	subs := newTestStore(t)
	notifier := &fakeNotifier{}
	s := newTestSweeper(&failingSubscribers{Subscribers: subs, failID: 1}, notifier)

	seed(t, subs, 1, true, ptr(time.Now().Add(-time.Hour)))
	seed(t, subs, 2, true, ptr(time.Now().Add(-time.Hour)))

	failed := s.RunDaily(context.Background())
	assert.Equal(t, 1, failed)

	sub, err := subs.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, sub.IsSubscribed, "failure for one subscriber must not abort the rest")
}

func TestRunWeeklyReportsStats(t *testing.T) {
	subs := newTestStore(t)
	notifier := &fakeNotifier{}
	s := newTestSweeper(subs, notifier)

	for i := int64(1); i <= 4; i++ {
		seed(t, subs, i, true, ptr(time.Now().Add(10*24*time.Hour)))
	}
	for i := int64(5); i <= 10; i++ {
		seed(t, subs, i, false, nil)
	}

	require.NoError(t, s.RunWeekly(context.Background()))

	reports := notifier.messagesTo(adminID)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].text, "Всего пользователей: 10")
	assert.Contains(t, reports[0].text, "Активные подписчики: 4")
	assert.Contains(t, reports[0].text, "Без подписки: 6")
	assert.Contains(t, reports[0].text, "Оценочный месячный доход: 2000₽")
}

// failingCounts breaks AggregateCounts to exercise the error notification.
type failingCounts struct {
	store.Subscribers
}

func (f *failingCounts) AggregateCounts(context.Context) (store.Counts, error) {
	return store.Counts{}, errors.New("query timeout")
}

func TestRunWeeklyReportsComputationFailure(t *testing.T) {
	notifier := &fakeNotifier{}
	s := newTestSweeper(&failingCounts{Subscribers: newTestStore(t)}, notifier)

	err := s.RunWeekly(context.Background())
	require.Error(t, err)

	alerts := notifier.messagesTo(adminID)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].text, "Ошибка при отправке статистики")
}

func TestStatsMessage(t *testing.T) {
	text := StatsMessage(store.Counts{Total: 10, Active: 4}, 500)
	assert.Equal(t,
		"Всего пользователей: 10\nАктивные подписчики: 4\nБез подписки: 6\nОценочный месячный доход: 2000₽",
		text)
}
