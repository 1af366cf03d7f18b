package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"

	"antow-bot/internal/approval"
	"antow-bot/internal/channel"
	"antow-bot/internal/store"
	"antow-bot/internal/worker"
)

const errorReply = "😔 Ой, что-то пошло не так! Пожалуйста, попробуйте снова или свяжитесь с поддержкой."

var userIDPattern = regexp.MustCompile(`ID: (\d+)`)

type Bot struct {
	Instance  *telego.Bot
	Gate      *Gate
	Workflow  *approval.Workflow
	Subs      store.Subscribers
	Channel   *channel.Telegram
	AdminID   int64
	UnitPrice int
}

func NewBot(instance *telego.Bot, gate *Gate, workflow *approval.Workflow, subs store.Subscribers, ch *channel.Telegram, adminID int64, unitPrice int) *Bot {
	return &Bot{
		Instance:  instance,
		Gate:      gate,
		Workflow:  workflow,
		Subs:      subs,
		Channel:   ch,
		AdminID:   adminID,
		UnitPrice: unitPrice,
	}
}

func (b *Bot) Start() {
	// chat_member updates are not delivered unless asked for explicitly.
	updates, _ := b.Instance.UpdatesViaLongPolling(context.Background(), &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message", "callback_query", "chat_member"},
	})

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		p := profileFrom(*message.From)
		log.Info().Int64("user_id", p.TelegramID).Str("username", p.Username).Msg("Processing /start")
		if err := b.Gate.OnStart(ctx.Context(), p); err != nil {
			log.Error().Err(err).Int64("user_id", p.TelegramID).Msg("Failed to handle /start")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(p.TelegramID), errorReply))
		}
		return nil
	}, th.CommandEqual("start"))

	// /a command - on-demand stats, admin only
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		chatID := tu.ID(message.Chat.ID)
		if message.From.ID != b.AdminID {
			log.Warn().Int64("user_id", message.From.ID).Msg("Unauthorized /a command")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(chatID, "У вас нет прав для этого действия."))
			return nil
		}
		counts, err := b.Subs.AggregateCounts(ctx.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to fetch stats for admin")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(chatID, "Произошла ошибка при получении статистики."))
			return nil
		}
		text := "📊 Статистика:\n" + worker.StatsMessage(counts, b.UnitPrice)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(chatID, text))
		return nil
	}, th.CommandEqual("a"))

	// Approve / reject callbacks from the review card
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		return b.handleDecision(ctx, update, true, approval.CallbackApprovePrefix)
	}, th.CallbackDataPrefix(approval.CallbackApprovePrefix))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		return b.handleDecision(ctx, update, false, approval.CallbackRejectPrefix)
	}, th.CallbackDataPrefix(approval.CallbackRejectPrefix))

	// All remaining messages: admin reply relay, payment proofs, plain text
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if message == nil || message.From == nil {
			return nil
		}
		if message.From.ID == b.AdminID && message.ReplyToMessage != nil {
			return b.relayAdminReply(ctx, message)
		}

		p := profileFrom(*message.From)
		mediaRef := ""
		if len(message.Photo) > 0 {
			// Largest rendition carries the file id worth reviewing.
			mediaRef = message.Photo[len(message.Photo)-1].FileID
		}
		if err := b.Gate.OnMessage(ctx.Context(), p, mediaRef); err != nil {
			log.Error().Err(err).Int64("user_id", p.TelegramID).Msg("Failed to handle message")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(p.TelegramID), errorReply))
		}
		return nil
	}, th.AnyMessage())

	// Channel membership changes
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		cm := update.ChatMember
		if cm == nil {
			return nil
		}
		if b.Channel != nil && !b.Channel.IsGatedChat(cm.Chat) {
			return nil
		}
		if !isJoinTransition(cm) {
			return nil
		}
		p := profileFrom(cm.NewChatMember.MemberUser())
		log.Info().Int64("user_id", p.TelegramID).Msg("User joined channel")
		if err := b.Gate.OnJoin(ctx.Context(), p); err != nil {
			log.Error().Err(err).Int64("user_id", p.TelegramID).Msg("Failed to handle join event")
		}
		return nil
	}, th.Any())

	handler.Start()
}

func (b *Bot) handleDecision(ctx *th.Context, update telego.Update, approve bool, prefix string) error {
	callback := update.CallbackQuery
	requestID := strings.TrimPrefix(callback.Data, prefix)

	err := b.Workflow.Resolve(ctx.Context(), callback.From.ID, requestID, approve)
	answer := tu.CallbackQuery(callback.ID)
	switch {
	case err == nil:
		if approve {
			answer = answer.WithText("Подписка подтверждена.")
		} else {
			answer = answer.WithText("Подписка отклонена.")
		}
	case errors.Is(err, approval.ErrNotPermitted):
		answer = answer.WithText("У вас нет прав для этого действия.").WithShowAlert()
	case errors.Is(err, store.ErrAlreadyResolved):
		answer = answer.WithText("Запрос уже обработан.")
	case errors.Is(err, store.ErrNotFound):
		answer = answer.WithText("Запрос не найден. Попросите пользователя отправить скриншот ещё раз.").WithShowAlert()
	default:
		log.Error().Err(err).Str("request_id", requestID).Msg("Failed to resolve approval request")
		answer = answer.WithText("Ошибка при обработке запроса.").WithShowAlert()
	}
	_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), answer)
	return nil
}

// relayAdminReply forwards the admin's reply on a review card to the user
// referenced in the card caption.
func (b *Bot) relayAdminReply(ctx *th.Context, message *telego.Message) error {
	adminChat := tu.ID(message.Chat.ID)
	caption := message.ReplyToMessage.Caption
	if caption == "" {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(adminChat, "Пожалуйста, ответьте на сообщение с информацией о пользователе."))
		return nil
	}
	m := userIDPattern.FindStringSubmatch(caption)
	if m == nil {
		log.Warn().Str("caption", caption).Msg("Could not extract user id from review card")
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(adminChat, "Не удалось определить ID пользователя из сообщения."))
		return nil
	}
	userID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(adminChat, "Не удалось определить ID пользователя из сообщения."))
		return nil
	}

	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(userID), message.Text)); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to relay admin reply")
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(adminChat, "Ошибка при отправке сообщения пользователю."))
		return nil
	}
	log.Info().Int64("user_id", userID).Msg("Relayed admin reply to user")
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(adminChat, fmt.Sprintf("Сообщение отправлено пользователю %d.", userID)))
	return nil
}

func isJoinTransition(cm *telego.ChatMemberUpdated) bool {
	newStatus := cm.NewChatMember.MemberStatus()
	if newStatus != telego.MemberStatusMember {
		return false
	}
	oldStatus := cm.OldChatMember.MemberStatus()
	return oldStatus == telego.MemberStatusLeft || oldStatus == telego.MemberStatusBanned ||
		oldStatus == telego.MemberStatusRestricted
}

func profileFrom(u telego.User) store.Profile {
	return store.Profile{
		TelegramID: u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Username:   u.Username,
	}
}
