package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"antow-bot/internal/models"
)

var ErrAlreadyResolved = errors.New("approval request already resolved")

// Approvals persists pending payment reviews so resolution survives a
// restart and happens at most once.
type Approvals interface {
	CreateRequest(ctx context.Context, req *models.ApprovalRequest) error
	GetRequest(ctx context.Context, id string) (models.ApprovalRequest, error)
	SetAdminMessage(ctx context.Context, id string, messageID int) error
	Resolve(ctx context.Context, id string, status models.ApprovalStatus, resolvedAt time.Time) (models.ApprovalRequest, error)
}

type GormApprovals struct {
	db *gorm.DB
}

func NewApprovals(db *gorm.DB) *GormApprovals {
	return &GormApprovals{db: db}
}

func (s *GormApprovals) CreateRequest(ctx context.Context, req *models.ApprovalRequest) error {
	if req.Status == "" {
		req.Status = models.ApprovalSubmitted
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create approval request for %d: %w", req.TelegramID, err)
	}
	return nil
}

func (s *GormApprovals) GetRequest(ctx context.Context, id string) (models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("failed to fetch approval request %s: %w", id, err)
	}
	return req, nil
}

func (s *GormApprovals) SetAdminMessage(ctx context.Context, id string, messageID int) error {
	err := s.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("id = ?", id).
		Update("admin_message_id", messageID).Error
	if err != nil {
		return fmt.Errorf("failed to set admin message for request %s: %w", id, err)
	}
	return nil
}

// Resolve transitions a submitted request to approved or rejected. The
// guarded update makes the transition single-shot: a second attempt gets
// ErrAlreadyResolved and must not re-run side effects.
func (s *GormApprovals) Resolve(ctx context.Context, id string, status models.ApprovalStatus, resolvedAt time.Time) (models.ApprovalRequest, error) {
	res := s.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, models.ApprovalSubmitted).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_at": resolvedAt,
		})
	if res.Error != nil {
		return models.ApprovalRequest{}, fmt.Errorf("failed to resolve approval request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return models.ApprovalRequest{}, err
		}
		return models.ApprovalRequest{}, ErrAlreadyResolved
	}
	return s.GetRequest(ctx, id)
}
