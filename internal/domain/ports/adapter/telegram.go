// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

// TelegramBotAdapter delivers a message to a Telegram chat. Private chats
// share the user's telegram id.
type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}
