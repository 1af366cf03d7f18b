package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"

	"antow-bot/internal/channel"
	"antow-bot/internal/lifecycle"
	"antow-bot/internal/models"
	"antow-bot/internal/store"
)

var ErrNotPermitted = errors.New("not permitted")

const (
	CallbackApprovePrefix = "approve_"
	CallbackRejectPrefix  = "reject_"
)

// Workflow drives one payment review from submission to a single terminal
// resolution. Only the configured administrator may resolve.
type Workflow struct {
	subs        store.Subscribers
	approvals   store.Approvals
	notifier    channel.Notifier
	engine      lifecycle.Engine
	adminID     int64
	channelLink string
	now         func() time.Time
}

func NewWorkflow(subs store.Subscribers, approvals store.Approvals, notifier channel.Notifier, engine lifecycle.Engine, adminID int64, channelLink string) *Workflow {
	return &Workflow{
		subs:        subs,
		approvals:   approvals,
		notifier:    notifier,
		engine:      engine,
		adminID:     adminID,
		channelLink: channelLink,
		now:         time.Now,
	}
}

// Submit records a new pending review and sends the review card to the
// administrator. The request is persisted before anything leaves the
// process, so a restart cannot orphan the admin-side buttons.
func (w *Workflow) Submit(ctx context.Context, p store.Profile, mediaRef string) error {
	req := &models.ApprovalRequest{
		ID:         uuid.NewString(),
		TelegramID: p.TelegramID,
		MediaRef:   mediaRef,
		Status:     models.ApprovalSubmitted,
	}
	if err := w.approvals.CreateRequest(ctx, req); err != nil {
		return err
	}

	username := p.Username
	if username == "" {
		username = "нет"
	}
	caption := fmt.Sprintf(
		"Пользователь: %s %s (@%s, ID: %d)\nОтправил скриншот оплаты для доступа к каналу.\nОтветьте на это сообщение, чтобы связаться с пользователем.",
		p.FirstName, p.LastName, username, p.TelegramID,
	)
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Подтвердить оплату").WithCallbackData(CallbackApprovePrefix+req.ID),
			tu.InlineKeyboardButton("❌ Отклонить").WithCallbackData(CallbackRejectPrefix+req.ID),
		),
	)

	messageID, err := w.notifier.NotifyPhoto(ctx, w.adminID, mediaRef, caption, keyboard)
	if err != nil {
		return fmt.Errorf("failed to send review card for %d: %w", p.TelegramID, err)
	}
	if err := w.approvals.SetAdminMessage(ctx, req.ID, messageID); err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to store review card reference")
	}
	log.Info().Str("request_id", req.ID).Int64("user_id", p.TelegramID).Msg("Payment proof submitted for review")

	if err := w.notifier.Notify(ctx, p.TelegramID,
		"✅ Ваш скриншот оплаты отправлен на проверку! 🙌\nСкоро мы подтвердим ваш доступ. Оставайтесь на связи! 😊", nil); err != nil {
		log.Error().Err(err).Int64("user_id", p.TelegramID).Msg("Failed to acknowledge proof submission")
	}
	return nil
}

// Resolve applies an administrator decision. A second resolution of the
// same request returns store.ErrAlreadyResolved and runs no side effects.
func (w *Workflow) Resolve(ctx context.Context, actorID int64, requestID string, approve bool) error {
	if actorID != w.adminID {
		log.Warn().Int64("actor_id", actorID).Str("request_id", requestID).Msg("Unauthorized approval attempt")
		return ErrNotPermitted
	}

	status := models.ApprovalRejected
	if approve {
		status = models.ApprovalApproved
	}

	now := w.now()
	req, err := w.approvals.Resolve(ctx, requestID, status, now)
	if err != nil {
		return err
	}

	if req.AdminMessageID != 0 {
		if err := w.notifier.StripControls(ctx, w.adminID, req.AdminMessageID); err != nil {
			log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to strip review card controls")
		}
	}

	if approve {
		return w.applyApproval(ctx, req, now)
	}
	return w.applyRejection(ctx, req)
}

func (w *Workflow) applyApproval(ctx context.Context, req models.ApprovalRequest, now time.Time) error {
	expiresAt := w.engine.GrantUntil(now)
	if err := w.subs.SetSubscription(ctx, req.TelegramID, true, &expiresAt); err != nil {
		// Resolution is already recorded; the subscription write needs a
		// human to finish the job.
		log.Error().Err(err).Int64("user_id", req.TelegramID).Msg("Approval recorded but subscription update failed")
		if nerr := w.notifier.Notify(ctx, w.adminID,
			fmt.Sprintf("⚠️ Оплата пользователя %d подтверждена, но обновить подписку не удалось: %v", req.TelegramID, err), nil); nerr != nil {
			log.Error().Err(nerr).Msg("Failed to alert admin about subscription update failure")
		}
		return err
	}
	log.Info().Int64("user_id", req.TelegramID).Time("expires_at", expiresAt).Msg("Subscription approved")

	var keyboard *telego.InlineKeyboardMarkup
	if w.channelLink != "" {
		keyboard = tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("Перейти в канал").WithURL(w.channelLink),
			),
		)
	}
	if err := w.notifier.Notify(ctx, req.TelegramID,
		fmt.Sprintf("Ваша подписка подтверждена до %s!", expiresAt.Format("02.01.2006")), keyboard); err != nil {
		log.Error().Err(err).Int64("user_id", req.TelegramID).Msg("Failed to notify user about approval")
	}
	if err := w.notifier.Notify(ctx, w.adminID,
		fmt.Sprintf("Подписка для пользователя %d подтверждена до %s.", req.TelegramID, expiresAt.Format("02.01.2006")), nil); err != nil {
		log.Error().Err(err).Msg("Failed to confirm approval to admin")
	}
	return nil
}

func (w *Workflow) applyRejection(ctx context.Context, req models.ApprovalRequest) error {
	log.Info().Int64("user_id", req.TelegramID).Str("request_id", req.ID).Msg("Subscription rejected")

	if err := w.notifier.Notify(ctx, req.TelegramID,
		"Ваша оплата была отклонена. Пожалуйста, свяжитесь с поддержкой.", nil); err != nil {
		log.Error().Err(err).Int64("user_id", req.TelegramID).Msg("Failed to notify user about rejection")
	}
	if err := w.notifier.Notify(ctx, w.adminID,
		fmt.Sprintf("Подписка для пользователя %d отклонена.", req.TelegramID), nil); err != nil {
		log.Error().Err(err).Msg("Failed to confirm rejection to admin")
	}
	return nil
}
