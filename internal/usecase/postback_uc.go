package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/domain/routing"
	"keitaro-notifier/internal/infra/i18n"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ PostbackUseCase = (*postbackUC)(nil)

// Route names how a postback found its recipients.
const (
	RouteAlias   = "alias"
	RouteRule    = "rule"
	RouteDefault = "default"
)

type PostbackResult struct {
	EventID    string           `json:"event_id"`
	Status     string           `json:"status"`
	Route      string           `json:"route"`
	Recipients []int64          `json:"recipients"`
	Deliveries []DeliveryResult `json:"deliveries"`
}

type PostbackUseCase interface {
	// Handle parses, routes, logs and delivers one tracker postback. Only a
	// malformed event is an error (domain.ErrValidation); delivery problems
	// are reported in the result.
	Handle(ctx context.Context, fields map[string]string) (*PostbackResult, error)
}

type postbackUC struct {
	aliases          repository.AliasRepository
	rules            repository.RoutingRuleRepository
	events           repository.PostbackLogRepository
	disp             *Dispatcher
	tr               *i18n.Translator
	defaultRecipient int64
	log              *zerolog.Logger
}

func NewPostbackUseCase(
	aliases repository.AliasRepository,
	rules repository.RoutingRuleRepository,
	events repository.PostbackLogRepository,
	disp *Dispatcher,
	tr *i18n.Translator,
	defaultRecipient int64,
	logger *zerolog.Logger,
) *postbackUC {
	return &postbackUC{
		aliases:          aliases,
		rules:            rules,
		events:           events,
		disp:             disp,
		tr:               tr,
		defaultRecipient: defaultRecipient,
		log:              logger,
	}
}

func (p *postbackUC) Handle(ctx context.Context, fields map[string]string) (*PostbackResult, error) {
	defer logging.TraceDuration(p.log, "PostbackUC.Handle")()
	ctx = logging.WithKind(ctx, "postback")
	log := logging.With(ctx, p.log)

	ev, err := model.ParseEvent(fields)
	if err != nil {
		metrics.IncPostback("invalid")
		log.Warn().Err(err).Msg("postback dropped")
		return nil, err
	}

	route, recipients := p.route(ctx, ev)
	res := &PostbackResult{
		EventID:    ulid.Make().String(),
		Status:     ev.Status,
		Route:      route,
		Recipients: recipients,
	}
	metrics.IncPostback(route)

	logged := &model.PostbackEvent{
		ID:         res.EventID,
		Payload:    fields,
		Status:     ev.Status,
		Offer:      ev.Offer,
		Country:    strings.ToUpper(ev.Country),
		Payout:     ev.PayoutValue(),
		ReceivedAt: time.Now(),
	}
	if route != RouteDefault && len(recipients) > 0 {
		owner := recipients[0]
		logged.RoutedUserID = &owner
	}
	if err := p.events.Save(ctx, repository.NoTX, logged); err != nil {
		log.Error().Err(err).Str("event_id", res.EventID).Msg("postback log write failed")
	}

	text := renderPostback(p.tr, ev)
	for _, id := range recipients {
		out, err := p.disp.Dispatch(ctx, id, text, false)
		if err != nil {
			log.Warn().Err(err).Int64("chat_id", id).Msg("postback not delivered")
		}
		res.Deliveries = append(res.Deliveries, out)
	}

	log.Info().
		Str("event_id", res.EventID).
		Str("status", ev.Status).
		Str("offer", ev.Offer).
		Str("route", route).
		Ints64("recipients", recipients).
		Msg("postback handled")
	return res, nil
}

// route resolves recipients: campaign alias first, then the best routing
// rule, then the default recipient. Storage errors fall through to the next
// step so an event is never lost to a lookup failure.
func (p *postbackUC) route(ctx context.Context, ev *model.Event) (string, []int64) {
	log := logging.With(ctx, p.log)

	if key := ev.AliasKey(); key != "" {
		a, err := p.aliases.FindByKey(ctx, repository.NoTX, key)
		switch {
		case err == nil:
			ids := []int64{a.BuyerID}
			if a.LeadID != nil && *a.LeadID != a.BuyerID {
				ids = append(ids, *a.LeadID)
			}
			return RouteAlias, ids
		case !errors.Is(err, domain.ErrNotFound):
			log.Error().Err(err).Str("alias", key).Msg("alias lookup failed")
		}
	}

	rules, err := p.rules.ListActive(ctx, repository.NoTX)
	if err != nil {
		log.Error().Err(err).Msg("rule snapshot failed")
	} else if owner, ok := routing.Match(ev, rules); ok {
		return RouteRule, []int64{owner}
	}

	log.Debug().Err(domain.ErrNoMatch).Msg("using default recipient")
	return RouteDefault, []int64{p.defaultRecipient}
}
