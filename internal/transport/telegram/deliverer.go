// Package telegram delivers due reminders as Telegram messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"calsched/internal/reminder"
	logx "calsched/pkg/logx"
)

var ErrUnknownChat = errors.New("no telegram chat for user")

type Config struct {
	Token     string
	ParseMode string
	// Chats maps a user id to the chat that receives their reminders.
	Chats map[string]int64
	// ThreadID targets a forum topic; 0 posts to the main chat.
	ThreadID int
}

// Sender is the subset of *tele.Bot used for delivery.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Deliverer struct {
	cfg Config
	bot Sender
	log logx.Logger
}

// New builds a deliverer on a send-only bot. The bot never polls for updates.
func New(cfg Config, log logx.Logger) (*Deliverer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return NewWithSender(cfg, b, log), nil
}

func NewWithSender(cfg Config, bot Sender, log logx.Logger) *Deliverer {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tele.ModeHTML
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Deliverer{cfg: cfg, bot: bot, log: log.With(logx.String("comp", "telegram"))}
}

func (d *Deliverer) Deliver(ctx context.Context, r reminder.Reminder) error {
	chatID, ok := d.cfg.Chats[r.UserID]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownChat, r.UserID)
	}
	chat := &tele.Chat{ID: chatID}
	opt := &tele.SendOptions{
		ParseMode:             d.cfg.ParseMode,
		DisableWebPagePreview: true,
		ThreadID:              d.cfg.ThreadID,
	}
	for i, chunk := range splitText(d.format(r), textLimit, d.cfg.ParseMode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.bot.Send(chat, chunk, opt); err != nil {
			return fmt.Errorf("send chunk %d: %w", i, err)
		}
	}
	d.log.Debug("reminder sent", logx.String("reminder", r.ID), logx.Int64("chat", chatID))
	return nil
}

func (d *Deliverer) format(r reminder.Reminder) string {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		text = "(no text)"
	}
	if strings.EqualFold(d.cfg.ParseMode, tele.ModeHTML) {
		return "<b>Reminder</b>\n" + html.EscapeString(text)
	}
	return "Reminder\n" + text
}
