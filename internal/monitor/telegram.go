package monitor

import (
	"context"
	"errors"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier posts alerts to a single chat.
type TelegramNotifier struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramNotifier authenticates the bot token against the Bot API.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(token, tgbot.APIEndpoint, chatID)
}

// NewTelegramNotifierWithEndpoint targets a custom Bot API endpoint, in the
// "%s/%s" token/method format of tgbot.APIEndpoint.
func NewTelegramNotifierWithEndpoint(token, endpoint string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	b, err := tgbot.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: b, chatID: chatID}, nil
}

func (t *TelegramNotifier) Notify(_ context.Context, message string) error {
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, message))
	return err
}
