package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/samber/oops"

	"github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
)

// telegramChannel delivers notifications through the Telegram Bot API.
type telegramChannel struct {
	bot    *bot.Bot
	chatID string
}

// newTelegramChannel parses "<bot_token>/<chat_id>" (the part after
// tgram://) and creates the bot client.
func newTelegramChannel(rest string) (Channel, error) {
	token, chatID, found := strings.Cut(rest, "/")
	if !found || token == "" || chatID == "" {
		return nil, oops.Errorf("telegram URL must be tgram://<bot_token>/<chat_id>")
	}

	// Construction stays offline; the token is only exercised on send
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, oops.With("context", "failed to create telegram bot").Wrap(err)
	}

	return &telegramChannel{bot: b, chatID: chatID}, nil
}

func (c *telegramChannel) Name() string {
	return "telegram"
}

func (c *telegramChannel) Send(ctx context.Context, title, message string, meta domain.Metadata) error {
	text := fmt.Sprintf("%s\n\n%s", title, message)
	if meta.URL != "" {
		text += "\n\n" + meta.URL
	}

	if meta.Thumbnail != "" {
		_, err := c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  c.chatID,
			Photo:   &models.InputFileString{Data: meta.Thumbnail},
			Caption: text,
		})
		if err == nil {
			return nil
		}
		// A stale or upstream-only thumbnail URL should not lose the
		// notification; retry as plain text
	}

	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: c.chatID,
		Text:   text,
	})
	if err != nil {
		return oops.With("chat_id", c.chatID).Wrap(err)
	}
	return nil
}
