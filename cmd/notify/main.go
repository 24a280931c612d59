// Command notify runs one partner poll and prints the run statistics as JSON.
//
//	notify -kind domains -days 30          # dry run
//	notify -kind orders -apply             # send and mark
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/adapter"
	pg "keitaro-notifier/internal/infra/db/postgres"
	"keitaro-notifier/internal/infra/i18n"
	"keitaro-notifier/internal/infra/logging"
	red "keitaro-notifier/internal/infra/redis"
	"keitaro-notifier/internal/infra/telegram"
	"keitaro-notifier/internal/infra/underdog"
	"keitaro-notifier/internal/infra/worker"
	"keitaro-notifier/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	kindFlag := flag.String("kind", "", "domains|ips|tickets|orders|design")
	days := flag.Int("days", usecase.DefaultDays, "expiry horizon in days")
	apply := flag.Bool("apply", false, "send messages and mark records (default is a dry run)")
	devMode := flag.Bool("dev", false, "console logs")
	flag.Parse()

	kind, err := model.ParseRecordKind(*kindFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown -kind %q\n", *kindFlag)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the JSON result
	logger := logging.New(cfg.Log, true).Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := usecase.NotifyRequest{Kind: kind, Days: *days, DryRun: !*apply}
	stats, err := run(ctx, cfg, &logger, req)
	if err != nil {
		logger.Error().Err(err).Msg("notify failed")
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, req usecase.NotifyRequest) (*usecase.Stats, error) {
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Locale)
	if err != nil {
		return nil, err
	}

	var sender adapter.TelegramBotAdapter
	if strings.EqualFold(cfg.Bot.Mode, "noop") {
		sender = telegram.NewNoopBot(logger)
	} else {
		s, err := telegram.NewSender(cfg.Bot.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = s
	}

	partner := underdog.NewClient(cfg.Underdog, logger)
	dispatcher := usecase.NewDispatcher(sender, partner, pg.NewNotificationLogRepo(pool), logger)
	broadcastPool := worker.NewPool(cfg.Bot.Workers, logger)
	broadcastPool.Start(ctx)
	defer broadcastPool.Stop()
	notifyUC := usecase.NewNotifyUseCase(partner, pg.NewPostgresUserRepo(pool), dispatcher, broadcastPool, tr, cfg.Bot.AdminIDs, logger)

	// share the scheduler's lock so a manual run never overlaps a scheduled one
	if !req.DryRun {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running without the poll lock")
		} else {
			defer redisClient.Close()
			locker := red.NewLocker(redisClient)
			key := red.PollLockKey(string(req.Kind))
			token, err := locker.TryLock(ctx, key, cfg.Scheduler.LockTTL)
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("a %s poll is already running: %w", req.Kind, err)
			}
			if err == nil {
				defer func() { _ = locker.Unlock(context.Background(), key, token) }()
			}
		}
	}

	return notifyUC.Run(ctx, req)
}
