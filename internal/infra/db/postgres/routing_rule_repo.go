package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
)

var _ repository.RoutingRuleRepository = (*PostgresRuleRepo)(nil)

type PostgresRuleRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRuleRepo(pool *pgxpool.Pool) *PostgresRuleRepo {
	return &PostgresRuleRepo{pool: pool}
}

// patternToDB stores the wildcard as NULL.
func patternToDB(p string) *string {
	p = model.NormalizePattern(p)
	if p == model.Wildcard {
		return nil
	}
	return &p
}

func patternFromDB(p *string) string {
	if p == nil {
		return model.Wildcard
	}
	return model.NormalizePattern(*p)
}

func (r *PostgresRuleRepo) Add(ctx context.Context, tx repository.Tx, rule *model.RoutingRule) error {
	const q = `
INSERT INTO routing_rules (owner_user_id, offer_pattern, country_pattern, source_pattern, priority, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id;
`
	row, err := pickRow(ctx, r.pool, tx, q,
		rule.OwnerID, patternToDB(rule.Offer), patternToDB(rule.Country), patternToDB(rule.Source),
		rule.Priority, rule.IsActive, rule.CreatedAt,
	)
	if err != nil {
		return err
	}
	if err := row.Scan(&rule.ID); err != nil {
		return fmt.Errorf("add routing rule: %w", err)
	}
	return nil
}

func (r *PostgresRuleRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.RoutingRule, error) {
	const q = `
SELECT id, owner_user_id, offer_pattern, country_pattern, source_pattern, priority, is_active, created_at
  FROM routing_rules
 WHERE is_active
 ORDER BY id;
`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	defer rows.Close()
	var out []*model.RoutingRule
	for rows.Next() {
		var (
			rule                   model.RoutingRule
			offer, country, source *string
		)
		if err := rows.Scan(&rule.ID, &rule.OwnerID, &offer, &country, &source, &rule.Priority, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		rule.Offer = patternFromDB(offer)
		rule.Country = patternFromDB(country)
		rule.Source = patternFromDB(source)
		out = append(out, &rule)
	}
	return out, rows.Err()
}
