package models

import (
	"time"
)

// Subscriber is one row per Telegram user that has ever talked to the bot.
// IsSubscribed=true with an expiry in the past is a valid transient state;
// only the expiry sweep resolves it back to unsubscribed.
type Subscriber struct {
	ID                    uint   `gorm:"primaryKey"`
	TelegramID            int64  `gorm:"uniqueIndex;not null"`
	FirstName             string `gorm:"size:255"`
	LastName              string `gorm:"size:255"`
	PhoneNumber           string `gorm:"size:32"`
	Username              string `gorm:"size:255"`
	IsSubscribed          bool   `gorm:"default:false"`
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
