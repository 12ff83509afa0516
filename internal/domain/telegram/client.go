package telegram

import "gopkg.in/telebot.v3"

// Client is the part of the bot API the staff notifier depends on.
// It keeps app code away from the concrete telebot.Bot.
type Client interface {
	// SendMessage posts text to a chat and returns the Telegram message ID.
	SendMessage(chatID int64, text string, options *telebot.SendOptions) (int, error)
}
