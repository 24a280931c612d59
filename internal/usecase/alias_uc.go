package usecase

import (
	"context"
	"strings"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ AliasUseCase = (*aliasUC)(nil)

type AliasUseCase interface {
	Set(ctx context.Context, requester *model.User, key string, buyerID int64, leadID *int64) (*model.CampaignAlias, error)
	List(ctx context.Context, requester *model.User) ([]*model.CampaignAlias, error)
	// Delete returns domain.ErrNotFound for unknown keys.
	Delete(ctx context.Context, requester *model.User, key string) error
}

type aliasUC struct {
	aliases repository.AliasRepository
	log     *zerolog.Logger
}

func NewAliasUseCase(aliases repository.AliasRepository, logger *zerolog.Logger) *aliasUC {
	return &aliasUC{aliases: aliases, log: logger}
}

func (a *aliasUC) Set(ctx context.Context, requester *model.User, key string, buyerID int64, leadID *int64) (*model.CampaignAlias, error) {
	if err := access.Authorize(requester, access.ActionManageAliases, nil); err != nil {
		return nil, err
	}
	alias, err := model.NewCampaignAlias(key, buyerID, leadID)
	if err != nil {
		return nil, err
	}
	if err := a.aliases.Upsert(ctx, repository.NoTX, alias); err != nil {
		return nil, err
	}
	a.log.Info().Str("alias", alias.Key).Int64("buyer_id", buyerID).Msg("campaign alias set")
	return alias, nil
}

func (a *aliasUC) List(ctx context.Context, requester *model.User) ([]*model.CampaignAlias, error) {
	if err := access.Authorize(requester, access.ActionManageAliases, nil); err != nil {
		return nil, err
	}
	return a.aliases.List(ctx, repository.NoTX)
}

func (a *aliasUC) Delete(ctx context.Context, requester *model.User, key string) error {
	if err := access.Authorize(requester, access.ActionManageAliases, nil); err != nil {
		return err
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return domain.ErrInvalidArgument
	}
	if err := a.aliases.Delete(ctx, repository.NoTX, key); err != nil {
		return err
	}
	a.log.Info().Str("alias", key).Msg("campaign alias deleted")
	return nil
}
