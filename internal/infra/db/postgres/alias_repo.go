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

var _ repository.AliasRepository = (*PostgresAliasRepo)(nil)

type PostgresAliasRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAliasRepo(pool *pgxpool.Pool) *PostgresAliasRepo {
	return &PostgresAliasRepo{pool: pool}
}

func (r *PostgresAliasRepo) Upsert(ctx context.Context, tx repository.Tx, a *model.CampaignAlias) error {
	const q = `
INSERT INTO campaign_aliases (alias_key, buyer_id, lead_id, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (alias_key) DO UPDATE
  SET buyer_id   = EXCLUDED.buyer_id,
      lead_id    = EXCLUDED.lead_id,
      updated_at = EXCLUDED.updated_at;
`
	if _, err := execSQL(ctx, r.pool, tx, q, a.Key, a.BuyerID, a.LeadID, a.UpdatedAt); err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

func (r *PostgresAliasRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.CampaignAlias, error) {
	const q = `SELECT alias_key, buyer_id, lead_id, updated_at FROM campaign_aliases WHERE alias_key = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, err
	}
	var a model.CampaignAlias
	if err := row.Scan(&a.Key, &a.BuyerID, &a.LeadID, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find alias: %w", err)
	}
	return &a, nil
}

func (r *PostgresAliasRepo) List(ctx context.Context, tx repository.Tx) ([]*model.CampaignAlias, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT alias_key, buyer_id, lead_id, updated_at FROM campaign_aliases ORDER BY alias_key;`)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	var out []*model.CampaignAlias
	for rows.Next() {
		var a model.CampaignAlias
		if err := rows.Scan(&a.Key, &a.BuyerID, &a.LeadID, &a.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *PostgresAliasRepo) Delete(ctx context.Context, tx repository.Tx, key string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM campaign_aliases WHERE alias_key = $1;`, key)
	if err != nil {
		return fmt.Errorf("delete alias: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
