package postgres

import (
	"context"
	"encoding/json"
	"time"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/metrics"
	red "keitaro-notifier/internal/infra/redis"
)

var _ repository.RoutingRuleRepository = (*ruleRepoCacheDecorator)(nil)

const activeRulesKey = "rules:active"

// ruleRepoCacheDecorator keeps the active rule snapshot in Redis so postbacks
// do not hit Postgres. Add drops the snapshot.
type ruleRepoCacheDecorator struct {
	inner repository.RoutingRuleRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewRuleRepoCacheDecorator(inner repository.RoutingRuleRepository, cache red.RedisClient, ttl time.Duration) repository.RoutingRuleRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ruleRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func (d *ruleRepoCacheDecorator) Add(ctx context.Context, tx repository.Tx, r *model.RoutingRule) error {
	if err := d.inner.Add(ctx, tx, r); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, activeRulesKey)
	return nil
}

func (d *ruleRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.RoutingRule, error) {
	val, err := d.cache.Get(ctx, activeRulesKey)
	switch {
	case err == nil:
		var rules []*model.RoutingRule
		if json.Unmarshal([]byte(val), &rules) == nil {
			metrics.IncCacheRequest("rules", "hit")
			return rules, nil
		}
		metrics.IncCacheRequest("rules", "miss")
	case red.IsMiss(err):
		metrics.IncCacheRequest("rules", "miss")
	default:
		metrics.IncCacheRequest("rules", "error")
	}

	rules, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(rules); err == nil {
		_ = d.cache.Set(ctx, activeRulesKey, b, d.ttl)
	}
	return rules, nil
}
