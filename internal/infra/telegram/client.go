// internal/infra/telegram/client.go
package telegram

import (
	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to a user or group chat and returns the message ID.
func (tba *TelebotAdapter) SendMessage(chatID int64, text string, options *telebot.SendOptions) (int, error) {
	if options == nil {
		options = &telebot.SendOptions{}
	}

	msg, err := tba.bot.Send(&telebot.Chat{ID: chatID}, text, options)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}
