package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"
)

type commandHandler func(ctx context.Context, msg *tgbotapi.Message) error

// replyFunc produces the text answered to a command. A non-nil error is
// logged; the text is still sent.
type replyFunc func(ctx context.Context, msg *tgbotapi.Message) (string, error)

// menu is published with SetCommands. Descriptions come from the locale.
var menu = []struct{ name, desc string }{
	{"start", "menu_start"},
	{"help", "menu_help"},
	{"whoami", "menu_whoami"},
	{"listusers", "menu_listusers"},
	{"listroutes", "menu_listroutes"},
	{"listteams", "menu_listteams"},
	{"today", "menu_today"},
	{"yesterday", "menu_yesterday"},
	{"week", "menu_week"},
	{"aliases", "menu_aliases"},
	{"notify", "menu_notify"},
	{"apitoken", "menu_apitoken"},
}

func (b *Bot) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": b.handleStart,
		"help": b.reply(func(context.Context, *tgbotapi.Message) (string, error) {
			return b.facade.HandleHelp(), nil
		}),
		"ping": b.reply(func(context.Context, *tgbotapi.Message) (string, error) {
			return b.facade.HandlePing(), nil
		}),
		"whoami": b.reply(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleWhoAmI(ctx, m.From.ID)
		}),
		"listusers": b.reply(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleListUsers(ctx, m.From.ID)
		}),
		"listroutes": b.reply(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleListRules(ctx, m.From.ID)
		}),
		"listteams": b.reply(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleListTeams(ctx, m.From.ID)
		}),
		"aliases": b.reply(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleAliases(ctx, m.From.ID)
		}),
		"apitoken": b.reply(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleAPIToken(ctx, m.From.ID)
		}),
		"today":     b.reply(b.report(model.PeriodToday)),
		"yesterday": b.reply(b.report(model.PeriodYesterday)),
		"week":      b.reply(b.report(model.PeriodWeek)),

		// Privileged commands. The access policy decides; the wrapper only
		// records the outcome.
		"addrule": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleAddRule(ctx, m.From.ID, args(m))
		})),
		"setrole": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleSetRole(ctx, m.From.ID, args(m))
		})),
		"createteam": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleCreateTeam(ctx, m.From.ID, m.CommandArguments())
		})),
		"setteam": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleSetTeam(ctx, m.From.ID, args(m))
		})),
		"unsetteam": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleUnsetTeam(ctx, m.From.ID, args(m))
		})),
		"setalias": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleSetAlias(ctx, m.From.ID, args(m))
		})),
		"delalias": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleDelAlias(ctx, m.From.ID, args(m))
		})),
		"notify": b.reply(b.privileged(func(ctx context.Context, m *tgbotapi.Message) (string, error) {
			return b.facade.HandleNotify(ctx, m.From.ID, args(m))
		})),
	}
}

func (b *Bot) handleStart(ctx context.Context, m *tgbotapi.Message) error {
	fullName := strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	replies, err := b.facade.HandleStart(ctx, m.From.ID, m.From.UserName, fullName)
	if err != nil {
		logging.With(ctx, &b.log).Error().Err(err).Msg("/start failed")
	}
	for _, text := range replies {
		if err := b.SendMessage(ctx, m.Chat.ID, text); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) report(period model.ReportPeriod) replyFunc {
	return func(ctx context.Context, m *tgbotapi.Message) (string, error) {
		return b.facade.HandleReport(ctx, m.From.ID, period)
	}
}

func (b *Bot) reply(fn replyFunc) commandHandler {
	return func(ctx context.Context, m *tgbotapi.Message) error {
		text, err := fn(ctx, m)
		if err != nil {
			logging.With(ctx, &b.log).Error().Err(err).Str("command", m.Command()).Msg("command failed")
		}
		if text == "" {
			return nil
		}
		return b.SendMessage(ctx, m.Chat.ID, text)
	}
}

func (b *Bot) privileged(fn replyFunc) replyFunc {
	return func(ctx context.Context, m *tgbotapi.Message) (string, error) {
		text, err := fn(ctx, m)
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case text == b.tr.T("access_denied"):
			status = "denied"
		}
		metrics.IncAdminCommand("/"+strings.ToLower(m.Command()), status)
		return text, err
	}
}

func args(m *tgbotapi.Message) []string {
	return strings.Fields(m.CommandArguments())
}
