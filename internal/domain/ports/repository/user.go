package repository

import (
	"context"

	"keitaro-notifier/internal/domain/model"
)

// -----------------------------
// Users & Teams
// -----------------------------

type UserRepository interface {
	// Save inserts or updates the user keyed by telegram id.
	Save(ctx context.Context, tx Tx, u *model.User) error
	// FindByTelegramID returns domain.ErrNotFound for unknown ids.
	FindByTelegramID(ctx context.Context, tx Tx, tgID int64) (*model.User, error)
	// FindByUsernames resolves normalized handles; unknown handles are absent
	// from the result.
	FindByUsernames(ctx context.Context, tx Tx, handles []string) (map[string]*model.User, error)
	List(ctx context.Context, tx Tx) ([]*model.User, error)
}

type TeamRepository interface {
	// Create assigns t.ID. A duplicate name yields domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, t *model.Team) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Team, error)
	List(ctx context.Context, tx Tx) ([]*model.Team, error)
}
