package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"keitaro-notifier/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*NoopBot)(nil)

// NoopBot logs messages instead of sending them. Used with bot.mode=noop for
// local runs and dry environments.
type NoopBot struct {
	log zerolog.Logger
}

func NewNoopBot(logger *zerolog.Logger) *NoopBot {
	return &NoopBot{log: logger.With().Str("component", "noop-telegram").Logger()}
}

func (b *NoopBot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.log.Info().Int64("chat_id", chatID).Str("text", text).Msg("message")
	return nil
}
