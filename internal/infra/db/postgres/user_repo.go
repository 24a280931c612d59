package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `telegram_id, username, full_name, role, team_id, is_active, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.TelegramID, &u.Username, &u.FullName, &role, &u.TeamID, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (telegram_id, username, full_name, role, team_id, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (telegram_id) DO UPDATE
  SET username  = EXCLUDED.username,
      full_name = EXCLUDED.full_name,
      role      = EXCLUDED.role,
      team_id   = EXCLUDED.team_id,
      is_active = EXCLUDED.is_active;
`
	_, err := execSQL(ctx, r.pool, tx, q, u.TelegramID, u.Username, u.FullName, string(u.Role), u.TeamID, u.IsActive, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1;`, tgID)
	if err != nil {
		return nil, err
	}
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) FindByUsernames(ctx context.Context, tx repository.Tx, handles []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(handles))
	if len(handles) == 0 {
		return out, nil
	}
	normalized := make([]string, 0, len(handles))
	for _, h := range handles {
		if h = model.NormalizeHandle(h); h != "" {
			normalized = append(normalized, h)
		}
	}

	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE lower(username) = ANY($1);`, normalized)
	if err != nil {
		return nil, fmt.Errorf("find users by username: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[u.Handle()] = u
	}
	return out, rows.Err()
}

func (r *PostgresUserRepo) List(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users ORDER BY telegram_id;`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
