package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"

	"antow-bot/internal/approval"
	"antow-bot/internal/channel"
	"antow-bot/internal/lifecycle"
	"antow-bot/internal/models"
	"antow-bot/internal/store"
)

// Gate enforces the current lifecycle decision on every live interaction:
// active subscribers get a fresh single-use invite, everyone else gets the
// payment prompt, and join events double as an eviction point.
type Gate struct {
	subs           store.Subscribers
	notifier       channel.Notifier
	workflow       *approval.Workflow
	engine         lifecycle.Engine
	adminID        int64
	paymentLink    string
	paymentDetails string
	unitPrice      int
	now            func() time.Time
}

func NewGate(subs store.Subscribers, notifier channel.Notifier, workflow *approval.Workflow, engine lifecycle.Engine, adminID int64, paymentLink, paymentDetails string, unitPrice int) *Gate {
	return &Gate{
		subs:           subs,
		notifier:       notifier,
		workflow:       workflow,
		engine:         engine,
		adminID:        adminID,
		paymentLink:    paymentLink,
		paymentDetails: paymentDetails,
		unitPrice:      unitPrice,
		now:            time.Now,
	}
}

// OnStart handles first contact via /start.
func (g *Gate) OnStart(ctx context.Context, p store.Profile) error {
	sub, d, err := g.admit(ctx, p)
	if err != nil {
		return err
	}
	if d.Action == lifecycle.ActionGrant {
		format := "🎉 Добро пожаловать обратно, %s! 💪\nВаша подписка активна до %s.\nПрисоединяйтесь к нашему премиум-каналу: %s"
		return g.sendInvite(ctx, p, sub, d, format)
	}
	header := fmt.Sprintf("🎉 Добро пожаловать, %s! 💪\nХотите получить доступ к эксклюзивным материалам? 🔥", p.FirstName)
	return g.promptPayment(ctx, p.TelegramID, header)
}

// OnMessage handles any subsequent message. A non-empty mediaRef is a
// payment-proof submission and is handed to the approval workflow.
func (g *Gate) OnMessage(ctx context.Context, p store.Profile, mediaRef string) error {
	sub, d, err := g.admit(ctx, p)
	if err != nil {
		return err
	}
	if d.Action == lifecycle.ActionGrant {
		format := "💪 Отлично, %s! Ваша подписка активна до %s.\nПерейдите по ссылке: %s"
		return g.sendInvite(ctx, p, sub, d, format)
	}
	if mediaRef != "" {
		return g.workflow.Submit(ctx, p, mediaRef)
	}
	header := "🔥 Хотите получить доступ к эксклюзивным материалам? 💪"
	return g.promptPayment(ctx, p.TelegramID, header)
}

// OnJoin handles a detected channel-join event. Anyone without grant
// standing is evicted: the gate is an enforcement point, not just an
// informational one.
func (g *Gate) OnJoin(ctx context.Context, p store.Profile) error {
	sub, d, err := g.admit(ctx, p)
	if err != nil {
		return err
	}
	if d.Action == lifecycle.ActionGrant {
		format := "🎉 Поздравляем, %s! Вы в команде! 💪\nВаша подписка активна до %s.\nСсылка на канал: %s"
		return g.sendInvite(ctx, p, sub, d, format)
	}

	if err := g.notifier.Evict(ctx, p.TelegramID); err != nil {
		log.Error().Err(err).Int64("user_id", p.TelegramID).Msg("Failed to evict joining non-subscriber")
		if nerr := g.notifier.Notify(ctx, g.adminID,
			fmt.Sprintf("⚠️ Ошибка при удалении пользователя %d из канала: %v", p.TelegramID, err), nil); nerr != nil {
			log.Error().Err(nerr).Msg("Failed to alert admin about eviction failure")
		}
		return nil
	}
	log.Info().Int64("user_id", p.TelegramID).Msg("Evicted non-subscriber after join event")

	header := "😔 Ваша подписка не активна. Чтобы получить доступ к эксклюзивному контенту, оплатите подписку и отправьте скриншот оплаты."
	return g.promptPayment(ctx, p.TelegramID, header)
}

// admit re-reads storage and applies the decision's state correction, so
// every caller acts on current data. The returned subscriber reflects the
// corrected state.
func (g *Gate) admit(ctx context.Context, p store.Profile) (models.Subscriber, lifecycle.Decision, error) {
	if err := g.subs.CreateIfAbsent(ctx, p); err != nil {
		return models.Subscriber{}, lifecycle.Decision{}, err
	}
	sub, err := g.subs.Get(ctx, p.TelegramID)
	if err != nil {
		return models.Subscriber{}, lifecycle.Decision{}, err
	}

	d := g.engine.Decide(sub, g.now())
	if d.Action == lifecycle.ActionRevoke {
		if err := g.subs.SetSubscription(ctx, p.TelegramID, false, nil); err != nil {
			return models.Subscriber{}, lifecycle.Decision{}, err
		}
		log.Info().Int64("user_id", p.TelegramID).Msg("Corrected stale subscription on contact")
		sub.IsSubscribed = false
		sub.SubscriptionExpiresAt = nil
		d = g.engine.Decide(sub, g.now())
	}
	return sub, d, nil
}

func (g *Gate) sendInvite(ctx context.Context, p store.Profile, sub models.Subscriber, d lifecycle.Decision, format string) error {
	link, err := g.notifier.IssueSingleUseInvite(ctx, d.InviteTTL)
	if err != nil {
		return err
	}
	expiresAt := ""
	if sub.SubscriptionExpiresAt != nil {
		expiresAt = sub.SubscriptionExpiresAt.Format("02.01.2006")
	}
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🏋️‍♂️ Перейти в канал").WithURL(link),
		),
	)
	return g.notifier.Notify(ctx, p.TelegramID, fmt.Sprintf(format, p.FirstName, expiresAt, link), keyboard)
}

func (g *Gate) promptPayment(ctx context.Context, telegramID int64, header string) error {
	text := fmt.Sprintf("%s\nОплатите подписку (%d₽) по реквизитам ниже и отправьте скриншот оплаты в этот чат. 🚀", header, g.unitPrice)
	if g.paymentDetails != "" {
		text += "\n\n" + g.paymentDetails
	}
	return g.notifier.Notify(ctx, telegramID, text, g.paymentKeyboard())
}

func (g *Gate) paymentKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(fmt.Sprintf("💸 Оплатить доступ (%d₽)", g.unitPrice)).WithURL(g.paymentLink),
		),
	)
}
