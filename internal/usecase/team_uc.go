package usecase

import (
	"context"

	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ TeamUseCase = (*teamUC)(nil)

type TeamUseCase interface {
	Create(ctx context.Context, requester *model.User, name string) (*model.Team, error)
	List(ctx context.Context, requester *model.User) ([]*model.Team, error)
}

type teamUC struct {
	teams repository.TeamRepository
	log   *zerolog.Logger
}

func NewTeamUseCase(teams repository.TeamRepository, logger *zerolog.Logger) *teamUC {
	return &teamUC{teams: teams, log: logger}
}

func (t *teamUC) Create(ctx context.Context, requester *model.User, name string) (*model.Team, error) {
	defer logging.TraceDuration(t.log, "TeamUC.Create")()

	if err := access.Authorize(requester, access.ActionCreateTeam, nil); err != nil {
		return nil, err
	}
	team, err := model.NewTeam(name)
	if err != nil {
		return nil, err
	}
	if err := t.teams.Create(ctx, repository.NoTX, team); err != nil {
		return nil, err
	}
	t.log.Info().Int64("team_id", team.ID).Str("name", team.Name).Msg("team created")
	return team, nil
}

func (t *teamUC) List(ctx context.Context, requester *model.User) ([]*model.Team, error) {
	if err := access.Authorize(requester, access.ActionListTeams, nil); err != nil {
		return nil, err
	}
	teams, err := t.teams.List(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []*model.Team{}
	}
	return teams, nil
}
