package models

import (
	"time"
)

type ApprovalStatus string

const (
	ApprovalSubmitted ApprovalStatus = "submitted"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
)

// ApprovalRequest is one pending payment-screenshot review. It resolves
// exactly once; AdminMessageID points at the review card in the admin chat
// so the buttons can be stripped after resolution.
type ApprovalRequest struct {
	ID             string         `gorm:"primaryKey;size:36"`
	TelegramID     int64          `gorm:"not null;index"`
	MediaRef       string         `gorm:"size:255"`
	Status         ApprovalStatus `gorm:"size:16;default:'submitted';index"`
	AdminMessageID int
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}
