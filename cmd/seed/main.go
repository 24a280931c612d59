// Command seed loads teams, users, routing rules and campaign aliases from a
// YAML file. Running it twice leaves the database unchanged.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"gopkg.in/yaml.v3"

	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	pg "keitaro-notifier/internal/infra/db/postgres"
	"keitaro-notifier/internal/infra/logging"
)

type seedFile struct {
	Teams []struct {
		Name string `yaml:"name"`
	} `yaml:"teams"`
	Users []struct {
		TelegramID int64  `yaml:"telegram_id"`
		Username   string `yaml:"username"`
		FullName   string `yaml:"full_name"`
		Role       string `yaml:"role"`
		Team       string `yaml:"team"`
	} `yaml:"users"`
	Rules []struct {
		OwnerID  int64  `yaml:"owner_id"`
		Offer    string `yaml:"offer"`
		Country  string `yaml:"country"`
		Source   string `yaml:"source"`
		Priority int    `yaml:"priority"`
	} `yaml:"rules"`
	Aliases []struct {
		Key     string `yaml:"key"`
		BuyerID int64  `yaml:"buyer_id"`
		LeadID  *int64 `yaml:"lead_id"`
	} `yaml:"aliases"`
}

type repos struct {
	users   repository.UserRepository
	teams   repository.TeamRepository
	rules   repository.RoutingRuleRepository
	aliases repository.AliasRepository
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	seedPath := flag.String("file", "seed.yaml", "path to the seed file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	raw, err := os.ReadFile(*seedPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read seed file")
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		logger.Fatal().Err(err).Msg("parse seed file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	r := repos{
		users:   pg.NewPostgresUserRepo(pool),
		teams:   pg.NewPostgresTeamRepo(pool),
		rules:   pg.NewPostgresRuleRepo(pool),
		aliases: pg.NewPostgresAliasRepo(pool),
	}
	tm := pg.NewTxManager(pool)
	err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return apply(ctx, tx, r, &seed)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}
	logger.Info().
		Int("teams", len(seed.Teams)).
		Int("users", len(seed.Users)).
		Int("rules", len(seed.Rules)).
		Int("aliases", len(seed.Aliases)).
		Msg("seed applied")
}

func apply(ctx context.Context, tx repository.Tx, r repos, seed *seedFile) error {
	existing, err := r.teams.List(ctx, tx)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}
	teamIDs := make(map[string]int64, len(existing))
	for _, t := range existing {
		teamIDs[strings.ToLower(t.Name)] = t.ID
	}
	for _, s := range seed.Teams {
		if _, ok := teamIDs[strings.ToLower(strings.TrimSpace(s.Name))]; ok {
			continue
		}
		t, err := model.NewTeam(s.Name)
		if err != nil {
			return fmt.Errorf("team %q: %w", s.Name, err)
		}
		if err := r.teams.Create(ctx, tx, t); err != nil {
			return fmt.Errorf("create team %q: %w", s.Name, err)
		}
		teamIDs[strings.ToLower(t.Name)] = t.ID
	}

	for _, s := range seed.Users {
		u, err := r.users.FindByTelegramID(ctx, tx, s.TelegramID)
		if errors.Is(err, domain.ErrNotFound) {
			u, err = model.NewUser(s.TelegramID, s.Username, s.FullName)
		}
		if err != nil {
			return fmt.Errorf("user %d: %w", s.TelegramID, err)
		}
		if s.Role != "" {
			role, err := model.ParseRole(s.Role)
			if err != nil {
				return fmt.Errorf("user %d role %q: %w", s.TelegramID, s.Role, err)
			}
			u.Role = role
		}
		if s.Team != "" {
			id, ok := teamIDs[strings.ToLower(strings.TrimSpace(s.Team))]
			if !ok {
				return fmt.Errorf("user %d: team %q: %w", s.TelegramID, s.Team, domain.ErrNotFound)
			}
			u.TeamID = &id
		}
		if err := r.users.Save(ctx, tx, u); err != nil {
			return fmt.Errorf("save user %d: %w", s.TelegramID, err)
		}
	}

	active, err := r.rules.ListActive(ctx, tx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	for _, s := range seed.Rules {
		rule, err := model.NewRoutingRule(s.OwnerID, s.Offer, s.Country, s.Source, s.Priority)
		if err != nil {
			return fmt.Errorf("rule for owner %d: %w", s.OwnerID, err)
		}
		if containsRule(active, rule) {
			continue
		}
		if err := r.rules.Add(ctx, tx, rule); err != nil {
			return fmt.Errorf("add rule for owner %d: %w", s.OwnerID, err)
		}
		active = append(active, rule)
	}

	for _, s := range seed.Aliases {
		a, err := model.NewCampaignAlias(s.Key, s.BuyerID, s.LeadID)
		if err != nil {
			return fmt.Errorf("alias %q: %w", s.Key, err)
		}
		if err := r.aliases.Upsert(ctx, tx, a); err != nil {
			return fmt.Errorf("upsert alias %q: %w", s.Key, err)
		}
	}
	return nil
}

func containsRule(rules []*model.RoutingRule, r *model.RoutingRule) bool {
	for _, x := range rules {
		if x.OwnerID == r.OwnerID && x.Offer == r.Offer && x.Country == r.Country &&
			x.Source == r.Source && x.Priority == r.Priority {
			return true
		}
	}
	return false
}
