package channel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Notifier is the outbound side of the bot: user notifications, invite
// links into the gated channel, and evictions from it. Implemented on
// Telegram here; faked in tests.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string, keyboard *telego.InlineKeyboardMarkup) error
	NotifyPhoto(ctx context.Context, userID int64, fileID, caption string, keyboard *telego.InlineKeyboardMarkup) (int, error)
	IssueSingleUseInvite(ctx context.Context, ttl time.Duration) (string, error)
	Evict(ctx context.Context, userID int64) error
	StripControls(ctx context.Context, chatID int64, messageID int) error
}

type Telegram struct {
	bot     *telego.Bot
	channel telego.ChatID
}

func NewTelegram(bot *telego.Bot, channelID string) *Telegram {
	return &Telegram{
		bot:     bot,
		channel: ParseChatID(channelID),
	}
}

// ParseChatID accepts either a numeric chat id or an "@username" reference.
func ParseChatID(raw string) telego.ChatID {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return tu.ID(id)
	}
	return tu.Username(raw)
}

// IsGatedChat reports whether a chat member update belongs to the gated channel.
func (t *Telegram) IsGatedChat(chat telego.Chat) bool {
	if t.channel.ID != 0 {
		return chat.ID == t.channel.ID
	}
	return t.channel.Username != "" && strings.EqualFold(t.channel.Username, "@"+chat.Username)
}

func (t *Telegram) Notify(ctx context.Context, userID int64, text string, keyboard *telego.InlineKeyboardMarkup) error {
	msg := tu.Message(tu.ID(userID), text).WithParseMode(telego.ModeMarkdown)
	if keyboard != nil {
		msg = msg.WithReplyMarkup(keyboard)
	}
	if _, err := t.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message to %d: %w", userID, err)
	}
	return nil
}

func (t *Telegram) NotifyPhoto(ctx context.Context, userID int64, fileID, caption string, keyboard *telego.InlineKeyboardMarkup) (int, error) {
	photo := tu.Photo(tu.ID(userID), tu.FileFromID(fileID)).WithCaption(caption)
	if keyboard != nil {
		photo = photo.WithReplyMarkup(keyboard)
	}
	msg, err := t.bot.SendPhoto(ctx, photo)
	if err != nil {
		return 0, fmt.Errorf("failed to send photo to %d: %w", userID, err)
	}
	return msg.MessageID, nil
}

// IssueSingleUseInvite creates a fresh invite link for the gated channel:
// one member, bounded lifetime. Links are never reused.
func (t *Telegram) IssueSingleUseInvite(ctx context.Context, ttl time.Duration) (string, error) {
	link, err := t.bot.CreateChatInviteLink(ctx, &telego.CreateChatInviteLinkParams{
		ChatID:      t.channel,
		MemberLimit: 1,
		ExpireDate:  time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create invite link: %w", err)
	}
	return link.InviteLink, nil
}

func (t *Telegram) Evict(ctx context.Context, userID int64) error {
	err := t.bot.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID: t.channel,
		UserID: userID,
	})
	if err != nil {
		return fmt.Errorf("failed to evict %d from channel: %w", userID, err)
	}
	return nil
}

// StripControls removes the inline keyboard from a review card. Stripping
// an already-stripped card is not an error.
func (t *Telegram) StripControls(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.EditMessageReplyMarkup(ctx, &telego.EditMessageReplyMarkupParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	})
	if err != nil && !strings.Contains(err.Error(), "message is not modified") {
		return fmt.Errorf("failed to strip controls from message %d: %w", messageID, err)
	}
	return nil
}
