package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"keitaro-notifier/internal/application"
	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain/ports/adapter"
	"keitaro-notifier/internal/infra/i18n"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"
	red "keitaro-notifier/internal/infra/redis"
)

// maxMessageRunes is the Telegram limit for a single text message.
const maxMessageRunes = 4096

var _ adapter.TelegramBotAdapter = (*Sender)(nil)

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Limiter is satisfied by *redis.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Sender delivers messages through the Bot API. Processes that never poll,
// such as the one-shot notify command, use it on its own.
type Sender struct {
	api botAPI
}

func NewSender(token string) (*Sender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Sender{api: api}, nil
}

// SendMessage delivers an HTML message, split on line boundaries when it
// exceeds the Telegram limit.
func (s *Sender) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := s.api.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Bot polls updates and routes commands to the facade.
type Bot struct {
	*Sender
	cfg     *config.BotConfig
	facade  *application.BotFacade
	limiter Limiter
	tr      *i18n.Translator
	log     zerolog.Logger

	updateWorkers int
}

func NewBot(sender *Sender, cfg *config.BotConfig, facade *application.BotFacade, limiter Limiter, tr *i18n.Translator, logger *zerolog.Logger) (*Bot, error) {
	if sender == nil {
		return nil, errors.New("telegram sender is nil")
	}
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	if facade == nil {
		return nil, errors.New("bot facade is nil")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	return &Bot{
		Sender:        sender,
		cfg:           cfg,
		facade:        facade,
		limiter:       limiter,
		tr:            tr,
		log:           logger.With().Str("component", "telegram").Logger(),
		updateWorkers: workers,
	}, nil
}

// SetCommands publishes the command menu shown by Telegram clients.
func (b *Bot) SetCommands() error {
	cmds := make([]tgbotapi.BotCommand, 0, len(menu))
	for _, c := range menu {
		cmds = append(cmds, tgbotapi.BotCommand{Command: c.name, Description: b.tr.T(c.desc)})
	}
	_, err := b.api.Request(tgbotapi.NewSetMyCommands(cmds...))
	return err
}

// StartPolling blocks until ctx is cancelled or the update channel closes.
// Updates are handled by a fixed pool of workers.
func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < b.updateWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range updateChan {
				if err := b.handleUpdate(ctx, up); err != nil {
					b.log.Error().Err(err).Int("worker", id).Msg("update handling failed")
				}
			}
		}(i)
	}

	b.log.Info().Int("workers", b.updateWorkers).Msg("telegram polling started")
	defer func() {
		b.api.StopReceivingUpdates()
		close(updateChan)
		wg.Wait()
		b.log.Info().Msg("telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case updateChan <- up:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return nil
	}
	cmd := strings.ToLower(msg.Command())
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	ctx = logging.WithTgID(ctx, msg.From.ID)
	metrics.IncTelegramCommand("/" + cmd)

	if b.limiter != nil && b.cfg.RateLimit > 0 {
		allowed, err := b.limiter.Allow(ctx, red.UserCommandKey(msg.From.ID, cmd), b.cfg.RateLimit, time.Minute)
		if err != nil {
			// fail open: a Redis outage must not silence the bot
			logging.With(ctx, &b.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			metrics.IncRateLimitTriggered()
			return b.SendMessage(ctx, msg.Chat.ID, b.tr.T("rate_limited"))
		}
	}

	handler, ok := b.commandRoutes()[cmd]
	if !ok {
		return b.SendMessage(ctx, msg.Chat.ID, b.tr.T("unknown_command"))
	}
	return handler(ctx, msg)
}

// splitMessage cuts text into parts of at most limit runes, preferring line
// breaks so HTML tags on a line stay intact.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		for n > limit {
			flush()
			r := []rune(line)
			parts = append(parts, string(r[:limit]))
			line = string(r[limit:])
			n -= limit
		}
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+n > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		curLen += sep + n
	}
	flush()
	return parts
}
