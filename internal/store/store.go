package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"antow-bot/internal/models"
)

var ErrNotFound = errors.New("not found")

// Profile carries the last-known informational fields for a user.
type Profile struct {
	TelegramID  int64
	FirstName   string
	LastName    string
	PhoneNumber string
	Username    string
}

type Counts struct {
	Total  int64
	Active int64
}

// Subscribers is the persistence contract consumed by the gate and the sweeps.
type Subscribers interface {
	CreateIfAbsent(ctx context.Context, p Profile) error
	Get(ctx context.Context, telegramID int64) (models.Subscriber, error)
	SetSubscription(ctx context.Context, telegramID int64, subscribed bool, expiresAt *time.Time) error
	ListExpiringWithin(ctx context.Context, days int) ([]models.Subscriber, error)
	ListExpired(ctx context.Context) ([]models.Subscriber, error)
	AggregateCounts(ctx context.Context) (Counts, error)
}

type GormSubscribers struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSubscribers(db *gorm.DB) *GormSubscribers {
	return &GormSubscribers{db: db, now: time.Now}
}

// CreateIfAbsent inserts the subscriber if unknown. Re-creating an existing
// id is a no-op; the fields from the first creation win.
func (s *GormSubscribers) CreateIfAbsent(ctx context.Context, p Profile) error {
	var sub models.Subscriber
	err := s.db.WithContext(ctx).
		Where(models.Subscriber{TelegramID: p.TelegramID}).
		Attrs(models.Subscriber{
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			PhoneNumber: p.PhoneNumber,
			Username:    p.Username,
		}).
		FirstOrCreate(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to create subscriber %d: %w", p.TelegramID, err)
	}
	return nil
}

func (s *GormSubscribers) Get(ctx context.Context, telegramID int64) (models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Subscriber{}, ErrNotFound
	}
	if err != nil {
		return models.Subscriber{}, fmt.Errorf("failed to fetch subscriber %d: %w", telegramID, err)
	}
	return sub, nil
}

func (s *GormSubscribers) SetSubscription(ctx context.Context, telegramID int64, subscribed bool, expiresAt *time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Subscriber{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{
			"is_subscribed":           subscribed,
			"subscription_expires_at": expiresAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update subscription for %d: %w", telegramID, err)
	}
	return nil
}

// ListExpiringWithin returns subscribed rows expiring inside the window,
// already-expired rows included. Callers re-decide per row, so expired
// entries sort into the revoke path rather than the reminder path.
func (s *GormSubscribers) ListExpiringWithin(ctx context.Context, days int) ([]models.Subscriber, error) {
	cutoff := s.now().Add(time.Duration(days) * 24 * time.Hour)
	var subs []models.Subscriber
	err := s.db.WithContext(ctx).
		Where("is_subscribed = ? AND subscription_expires_at <= ?", true, cutoff).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscribers: %w", err)
	}
	return subs, nil
}

func (s *GormSubscribers) ListExpired(ctx context.Context) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := s.db.WithContext(ctx).
		Where("is_subscribed = ? AND subscription_expires_at <= ?", true, s.now()).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscribers: %w", err)
	}
	return subs, nil
}

func (s *GormSubscribers) AggregateCounts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.WithContext(ctx).Model(&models.Subscriber{}).Count(&c.Total).Error; err != nil {
		return Counts{}, fmt.Errorf("failed to count subscribers: %w", err)
	}
	err := s.db.WithContext(ctx).Model(&models.Subscriber{}).
		Where("is_subscribed = ? AND subscription_expires_at > ?", true, s.now()).
		Count(&c.Active).Error
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count active subscribers: %w", err)
	}
	return c, nil
}
