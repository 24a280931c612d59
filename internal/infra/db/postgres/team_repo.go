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

var _ repository.TeamRepository = (*PostgresTeamRepo)(nil)

type PostgresTeamRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTeamRepo(pool *pgxpool.Pool) *PostgresTeamRepo {
	return &PostgresTeamRepo{pool: pool}
}

func (r *PostgresTeamRepo) Create(ctx context.Context, tx repository.Tx, t *model.Team) error {
	const q = `INSERT INTO teams (name, created_at) VALUES ($1, $2) RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, t.Name, t.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&t.ID); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func (r *PostgresTeamRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Team, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT id, name, created_at FROM teams WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	var t model.Team
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find team: %w", err)
	}
	return &t, nil
}

func (r *PostgresTeamRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Team, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT id, name, created_at FROM teams ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()
	var out []*model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
