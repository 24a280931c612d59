package usecase

import (
	"context"
	"errors"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ RuleUseCase = (*ruleUC)(nil)

type AddRuleInput struct {
	OwnerID  int64
	Offer    string
	Country  string
	Source   string
	Priority int
}

type RuleUseCase interface {
	Add(ctx context.Context, requester *model.User, in AddRuleInput) (*model.RoutingRule, error)
	ListVisible(ctx context.Context, requester *model.User) ([]*model.RoutingRule, error)
}

type ruleUC struct {
	rules repository.RoutingRuleRepository
	users repository.UserRepository
	log   *zerolog.Logger
}

func NewRuleUseCase(rules repository.RoutingRuleRepository, users repository.UserRepository, logger *zerolog.Logger) *ruleUC {
	return &ruleUC{rules: rules, users: users, log: logger}
}

// Add stores a rule. Heads may only add rules owned by members of their team;
// the owner must then already be registered.
func (r *ruleUC) Add(ctx context.Context, requester *model.User, in AddRuleInput) (*model.RoutingRule, error) {
	defer logging.TraceDuration(r.log, "RuleUC.Add")()

	rule, err := model.NewRoutingRule(in.OwnerID, in.Offer, in.Country, in.Source, in.Priority)
	if err != nil {
		return nil, err
	}

	owner, err := r.users.FindByTelegramID(ctx, repository.NoTX, in.OwnerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err := access.Authorize(requester, access.ActionAddRule, owner); err != nil {
		return nil, err
	}

	if err := r.rules.Add(ctx, repository.NoTX, rule); err != nil {
		return nil, err
	}
	r.log.Info().
		Int64("rule_id", rule.ID).
		Int64("owner_id", rule.OwnerID).
		Int64("by", requester.TelegramID).
		Msg("routing rule added")
	return rule, nil
}

func (r *ruleUC) ListVisible(ctx context.Context, requester *model.User) ([]*model.RoutingRule, error) {
	defer logging.TraceDuration(r.log, "RuleUC.ListVisible")()

	if err := access.Authorize(requester, access.ActionListRules, nil); err != nil {
		return nil, err
	}
	rules, err := r.rules.ListActive(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return access.VisibleRules(requester, rules)
}
