package usecase

import (
	"context"
	"errors"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user operations used by bot and API flows.
type UserUseCase interface {
	// RegisterOrFetch creates the user on first contact and refreshes the
	// username otherwise. created is true for a new user.
	RegisterOrFetch(ctx context.Context, tgID int64, username, fullName string) (u *model.User, created bool, err error)
	// Requester returns the user as seen by the access policy. Configured
	// admin ids resolve even before they registered.
	Requester(ctx context.Context, tgID int64) (*model.User, error)
	ListVisible(ctx context.Context, requester *model.User) ([]*model.User, error)
	SetRole(ctx context.Context, requester *model.User, targetID int64, role model.Role) (*model.User, error)
	// SetTeam moves the target into teamID, or out of any team when nil.
	SetTeam(ctx context.Context, requester *model.User, targetID int64, teamID *int64) (*model.User, error)
}

type userUC struct {
	users    repository.UserRepository
	teams    repository.TeamRepository
	tm       repository.TransactionManager
	adminIDs []int64
	log      *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, teams repository.TeamRepository, tm repository.TransactionManager, adminIDs []int64, logger *zerolog.Logger) *userUC {
	return &userUC{
		users:    users,
		teams:    teams,
		tm:       tm,
		adminIDs: adminIDs,
		log:      logger,
	}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, tgID int64, username, fullName string) (*model.User, bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	var (
		user    *model.User
		created bool
	)
	// read and write in one serializable transaction so two concurrent
	// /start calls cannot both insert
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByTelegramID(ctx, tx, tgID)
		switch {
		case err == nil:
			fresh, _ := model.NewUser(tgID, username, fullName)
			changed := false
			if fresh.Username != "" && fresh.Username != usr.Username {
				usr.Username = fresh.Username
				changed = true
			}
			if fresh.FullName != "" && fresh.FullName != usr.FullName {
				usr.FullName = fresh.FullName
				changed = true
			}
			if !usr.IsActive {
				usr.IsActive = true
				changed = true
			}
			if changed {
				if err := u.users.Save(ctx, tx, usr); err != nil {
					return err
				}
			}
			user = usr
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		nu, err := model.NewUser(tgID, username, fullName)
		if err != nil {
			return err
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		user, created = nu, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.IncUsersRegistered()
		u.log.Info().Int64("tg_id", tgID).Str("username", user.Username).Msg("user registered")
	}
	return user, created, nil
}

func (u *userUC) Requester(ctx context.Context, tgID int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.Requester")()

	usr, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if errors.Is(err, domain.ErrNotFound) && u.isConfiguredAdmin(tgID) {
		return &model.User{TelegramID: tgID, Role: model.RoleAdmin, IsActive: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return access.Effective(usr, u.adminIDs), nil
}

func (u *userUC) isConfiguredAdmin(tgID int64) bool {
	for _, id := range u.adminIDs {
		if id == tgID {
			return true
		}
	}
	return false
}

func (u *userUC) ListVisible(ctx context.Context, requester *model.User) ([]*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.ListVisible")()

	if err := access.Authorize(requester, access.ActionListUsers, nil); err != nil {
		return nil, err
	}
	all, err := u.users.List(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return access.VisibleUsers(requester, all)
}

func (u *userUC) SetRole(ctx context.Context, requester *model.User, targetID int64, role model.Role) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.SetRole")()

	if !role.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	var out *model.User
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		target, err := u.findOrCreate(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if err := access.Authorize(requester, access.ActionSetRole, target); err != nil {
			return err
		}
		target.Role = role
		if err := u.users.Save(ctx, tx, target); err != nil {
			return err
		}
		out = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Int64("by", requester.TelegramID).Int64("tg_id", targetID).Str("role", string(role)).Msg("role changed")
	return out, nil
}

func (u *userUC) SetTeam(ctx context.Context, requester *model.User, targetID int64, teamID *int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.SetTeam")()

	var out *model.User
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		target, err := u.findOrCreate(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if err := access.AuthorizeTeamChange(requester, target, teamID); err != nil {
			return err
		}
		if teamID != nil {
			if _, err := u.teams.FindByID(ctx, tx, *teamID); err != nil {
				return err
			}
		}
		target.TeamID = teamID
		if err := u.users.Save(ctx, tx, target); err != nil {
			return err
		}
		out = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Int64("by", requester.TelegramID).Int64("tg_id", targetID).Msg("team changed")
	return out, nil
}

// findOrCreate returns the target user, creating a placeholder for ids that
// never wrote to the bot. A placeholder is only saved by the caller after the
// privilege check passed.
func (u *userUC) findOrCreate(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	usr, err := u.users.FindByTelegramID(ctx, tx, tgID)
	if err == nil {
		return usr, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return model.NewUser(tgID, "", "")
}
