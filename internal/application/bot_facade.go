package application

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/infra/i18n"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/usecase"
)

// BotFacade composes use cases into bot commands. Methods return the reply
// text so the Telegram adapter just forwards it to the chat. Expected
// failures (bad arguments, denied privileges) become replies; only
// unexpected errors are returned, together with a generic reply.
type BotFacade struct {
	UserUC   usecase.UserUseCase
	TeamUC   usecase.TeamUseCase
	RuleUC   usecase.RuleUseCase
	AliasUC  usecase.AliasUseCase
	NotifyUC usecase.NotifyUseCase
	ReportUC usecase.ReportUseCase
	Tokens   TokenIssuer

	tr  *i18n.Translator
	log *zerolog.Logger
}

func NewBotFacade(
	userUC usecase.UserUseCase,
	teamUC usecase.TeamUseCase,
	ruleUC usecase.RuleUseCase,
	aliasUC usecase.AliasUseCase,
	notifyUC usecase.NotifyUseCase,
	reportUC usecase.ReportUseCase,
	tokens TokenIssuer,
	tr *i18n.Translator,
	logger *zerolog.Logger,
) *BotFacade {
	return &BotFacade{
		UserUC:   userUC,
		TeamUC:   teamUC,
		RuleUC:   ruleUC,
		AliasUC:  aliasUC,
		NotifyUC: notifyUC,
		ReportUC: reportUC,
		Tokens:   tokens,
		tr:       tr,
		log:      logger,
	}
}

// HandleStart registers the sender and delivers their pending orders. It
// returns one reply per message to send.
func (b *BotFacade) HandleStart(ctx context.Context, tgID int64, username, fullName string) ([]string, error) {
	u, _, err := b.UserUC.RegisterOrFetch(ctx, tgID, username, fullName)
	if err != nil {
		return []string{b.tr.T("generic_error")}, fmt.Errorf("register user: %w", err)
	}
	replies := []string{b.tr.T("start_welcome", esc(displayName(u)), u.Role)}
	if b.NotifyUC == nil {
		return replies, nil
	}

	ctx = logging.WithKind(ctx, string(model.KindOrder))
	stats, err := b.NotifyUC.Run(ctx, usecase.NotifyRequest{Kind: model.KindOrder, UserIDs: []int64{tgID}})
	if err != nil {
		b.log.Warn().Err(err).Int64("tg_id", tgID).Msg("pending orders check failed")
		return append(replies, b.tr.T("start_orders_failed")), nil
	}
	if stats.NotifiedRecords > 0 {
		replies = append(replies, b.tr.T("start_orders_sent", stats.NotifiedRecords))
	} else {
		replies = append(replies, b.tr.T("start_orders_none"))
	}
	if stats.UnknownUser > 0 || stats.MissingContact > 0 {
		replies = append(replies, b.tr.T("start_orders_unknown"))
	}
	return replies, nil
}

func (b *BotFacade) HandleHelp() string { return b.tr.T("help") }

func (b *BotFacade) HandlePing() string { return b.tr.T("pong") }

func (b *BotFacade) HandleWhoAmI(ctx context.Context, tgID int64) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	return b.tr.T("whoami", u.TelegramID, esc(orDash(u.Username)), u.Role, b.teamLabel(u.TeamID)), nil
}

func (b *BotFacade) HandleListUsers(ctx context.Context, tgID int64) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	users, err := b.UserUC.ListVisible(ctx, u)
	if err != nil {
		return b.fail(err)
	}
	if len(users) == 0 {
		return b.tr.T("users_empty"), nil
	}
	lines := []string{b.tr.T("users_header")}
	for _, x := range users {
		lines = append(lines, b.tr.T("users_line", x.TelegramID, esc(orDash(x.Username)), x.Role, b.teamLabel(x.TeamID)))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *BotFacade) HandleListRules(ctx context.Context, tgID int64) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	rules, err := b.RuleUC.ListVisible(ctx, u)
	if err != nil {
		return b.fail(err)
	}
	if len(rules) == 0 {
		return b.tr.T("rules_empty"), nil
	}
	lines := []string{b.tr.T("rules_header")}
	for _, r := range rules {
		line := b.tr.T("rules_line", r.ID, r.OwnerID, esc(r.Offer), esc(r.Country), esc(r.Source), r.Priority)
		if r.IsCatchAll() {
			line += " " + b.tr.T("rules_catch_all")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (b *BotFacade) HandleListTeams(ctx context.Context, tgID int64) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	teams, err := b.TeamUC.List(ctx, u)
	if err != nil {
		return b.fail(err)
	}
	if len(teams) == 0 {
		return b.tr.T("teams_empty"), nil
	}
	lines := []string{b.tr.T("teams_header")}
	for _, t := range teams {
		lines = append(lines, b.tr.T("teams_line", t.ID, esc(t.Name)))
	}
	return strings.Join(lines, "\n"), nil
}

// HandleAddRule expects: owner_id offer country source [priority].
func (b *BotFacade) HandleAddRule(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	in, ok := parseAddRule(args)
	if !ok {
		return b.tr.T("usage_addrule"), nil
	}
	rule, err := b.RuleUC.Add(ctx, u, in)
	if err != nil {
		return b.failWithUsage(err, "usage_addrule")
	}
	return b.tr.T("rule_added", rule.ID), nil
}

// HandleSetRole expects: user_id role.
func (b *BotFacade) HandleSetRole(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	if len(args) != 2 {
		return b.tr.T("usage_setrole"), nil
	}
	target, ok := parseID(args[0])
	role, rerr := model.ParseRole(args[1])
	if !ok || rerr != nil {
		return b.tr.T("usage_setrole"), nil
	}
	if _, err := b.UserUC.SetRole(ctx, u, target, role); err != nil {
		return b.failWithUsage(err, "usage_setrole")
	}
	return b.tr.T("role_set", target, role), nil
}

func (b *BotFacade) HandleCreateTeam(ctx context.Context, tgID int64, name string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return b.tr.T("usage_createteam"), nil
	}
	team, err := b.TeamUC.Create(ctx, u, name)
	if err != nil {
		return b.failWithUsage(err, "usage_createteam")
	}
	return b.tr.T("team_created", team.ID, esc(team.Name)), nil
}

// HandleSetTeam expects: user_id team_id.
func (b *BotFacade) HandleSetTeam(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	if len(args) != 2 {
		return b.tr.T("usage_setteam"), nil
	}
	target, ok1 := parseID(args[0])
	team, ok2 := parseID(args[1])
	if !ok1 || !ok2 {
		return b.tr.T("usage_setteam"), nil
	}
	if _, err := b.UserUC.SetTeam(ctx, u, target, &team); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return b.tr.T("team_not_found"), nil
		}
		return b.fail(err)
	}
	return b.tr.T("team_set", target, team), nil
}

func (b *BotFacade) HandleUnsetTeam(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	if len(args) != 1 {
		return b.tr.T("usage_unsetteam"), nil
	}
	target, ok := parseID(args[0])
	if !ok {
		return b.tr.T("usage_unsetteam"), nil
	}
	if _, err := b.UserUC.SetTeam(ctx, u, target, nil); err != nil {
		return b.fail(err)
	}
	return b.tr.T("team_unset", target), nil
}

func (b *BotFacade) HandleAliases(ctx context.Context, tgID int64) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	aliases, err := b.AliasUC.List(ctx, u)
	if err != nil {
		return b.fail(err)
	}
	if len(aliases) == 0 {
		return b.tr.T("aliases_empty"), nil
	}
	lines := []string{b.tr.T("aliases_header")}
	for _, a := range aliases {
		lead := "-"
		if a.LeadID != nil {
			lead = strconv.FormatInt(*a.LeadID, 10)
		}
		lines = append(lines, b.tr.T("aliases_line", esc(a.Key), a.BuyerID, lead))
	}
	return strings.Join(lines, "\n"), nil
}

// HandleSetAlias expects: key buyer_id [lead_id].
func (b *BotFacade) HandleSetAlias(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	key, buyer, lead, ok := parseSetAlias(args)
	if !ok {
		return b.tr.T("usage_setalias"), nil
	}
	alias, err := b.AliasUC.Set(ctx, u, key, buyer, lead)
	if err != nil {
		return b.failWithUsage(err, "usage_setalias")
	}
	return b.tr.T("alias_set", esc(alias.Key), alias.BuyerID), nil
}

// HandleDelAlias expects: key.
func (b *BotFacade) HandleDelAlias(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	if len(args) != 1 {
		return b.tr.T("usage_delalias"), nil
	}
	if err := b.AliasUC.Delete(ctx, u, args[0]); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return b.tr.T("alias_not_found"), nil
		}
		return b.failWithUsage(err, "usage_delalias")
	}
	return b.tr.T("alias_deleted", esc(strings.ToLower(args[0]))), nil
}

// HandleReport renders the postback report of period for the sender.
func (b *BotFacade) HandleReport(ctx context.Context, tgID int64, period model.ReportPeriod) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	rep, err := b.ReportUC.Report(ctx, u, usecase.ReportRequest{Period: period})
	if err != nil {
		return b.fail(err)
	}
	return b.renderReport(rep), nil
}

func (b *BotFacade) renderReport(rep *model.Report) string {
	agg := rep.Aggregate
	lines := []string{b.tr.T("report_title_" + string(rep.Period))}
	if agg == nil || agg.Total == 0 {
		return strings.Join(append(lines, b.tr.T("report_empty")), "\n")
	}
	lines = append(lines,
		b.tr.T("report_sales", agg.Sales),
		b.tr.T("report_payout", agg.Payout),
		b.tr.T("report_cr", agg.ConversionRate(), agg.Total),
	)
	if agg.TopOffer != "" {
		lines = append(lines, b.tr.T("report_top_offer", esc(agg.TopOffer)))
	}
	if len(agg.Countries) > 0 {
		parts := make([]string, 0, len(agg.Countries))
		for _, c := range agg.Countries {
			parts = append(parts, fmt.Sprintf("%s:%d", esc(c.Key), c.Count))
		}
		lines = append(lines, b.tr.T("report_geo", strings.Join(parts, ", ")))
	}
	if rep.Period == model.PeriodWeek {
		trend := agg.Trend(rep.From, rep.To)
		parts := make([]string, 0, len(trend))
		for _, d := range trend {
			parts = append(parts, fmt.Sprintf("%02d:%d", d.Day.Day(), d.Sales))
		}
		lines = append(lines, b.tr.T("report_trend", strings.Join(parts, ", ")))
	}
	if rep.Scoped {
		lines = append(lines, b.tr.T("report_scope", rep.Users))
	}
	return strings.Join(lines, "\n")
}

// HandleNotify expects: kind [days] [apply]. Without "apply" it is a dry run.
func (b *BotFacade) HandleNotify(ctx context.Context, tgID int64, args []string) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	req, ok := parseNotify(args)
	if !ok {
		return b.tr.T("usage_notify"), nil
	}
	ctx = logging.WithKind(ctx, string(req.Kind))
	stats, err := b.NotifyUC.RunAs(ctx, u, req)
	if err != nil {
		return b.fail(err)
	}
	prefix := ""
	if stats.DryRun {
		prefix = b.tr.T("dry_run_prefix")
	}
	return b.tr.T("notify_result", prefix, stats.Kind, stats.Total, stats.Selected,
		stats.NotifiedRecords, stats.MissingContact, stats.UnknownUser, stats.Errors), nil
}

func (b *BotFacade) HandleAPIToken(ctx context.Context, tgID int64) (string, error) {
	u, reply, err := b.requester(ctx, tgID)
	if u == nil {
		return reply, err
	}
	if b.Tokens == nil || !b.Tokens.Enabled() {
		return b.tr.T("api_disabled"), nil
	}
	if err := access.Authorize(u, access.ActionIssueToken, nil); err != nil {
		return b.fail(err)
	}
	tok, exp, err := b.Tokens.Mint(u.TelegramID, string(u.Role))
	if err != nil {
		return b.fail(err)
	}
	return b.tr.T("api_token", exp.UTC().Format("02.01.2006 15:04 UTC"), tok), nil
}

// requester resolves the sender. A nil user means the reply must be sent
// as is.
func (b *BotFacade) requester(ctx context.Context, tgID int64) (*model.User, string, error) {
	u, err := b.UserUC.Requester(ctx, tgID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, b.tr.T("not_registered"), nil
	}
	if err != nil {
		return nil, b.tr.T("generic_error"), err
	}
	return u, "", nil
}

func (b *BotFacade) fail(err error) (string, error) {
	switch {
	case errors.Is(err, domain.ErrAuthorization):
		return b.tr.T("access_denied"), nil
	case errors.Is(err, domain.ErrNotFound):
		return b.tr.T("user_not_found"), nil
	}
	return b.tr.T("generic_error"), err
}

func (b *BotFacade) failWithUsage(err error, usageKey string) (string, error) {
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrAlreadyExists) {
		return b.tr.T(usageKey), nil
	}
	return b.fail(err)
}

func (b *BotFacade) teamLabel(id *int64) string {
	if id == nil {
		return b.tr.T("no_team")
	}
	return "#" + strconv.FormatInt(*id, 10)
}

func displayName(u *model.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.TelegramID, 10)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var esc = html.EscapeString
