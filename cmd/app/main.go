package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"keitaro-notifier/internal/application"
	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain/ports/adapter"
	"keitaro-notifier/internal/infra/api"
	pg "keitaro-notifier/internal/infra/db/postgres"
	"keitaro-notifier/internal/infra/i18n"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"
	red "keitaro-notifier/internal/infra/redis"
	"keitaro-notifier/internal/infra/sched"
	"keitaro-notifier/internal/infra/telegram"
	"keitaro-notifier/internal/infra/underdog"
	"keitaro-notifier/internal/infra/worker"
	"keitaro-notifier/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo("app", version, commit)
	logger.Info().
		Str("version", version).
		Str("bot_mode", cfg.Bot.Mode).
		Str("bot_token", logging.Redact(cfg.Bot.Token, cfg.Runtime.Dev)).
		Str("underdog_user", logging.Redact(cfg.Underdog.Email, cfg.Runtime.Dev)).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("app stopped with error")
	}
	logger.Info().Msg("app stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewPostgresUserRepo(pool), redisClient, cfg.Redis.TTL)
	ruleRepo := pg.NewRuleRepoCacheDecorator(pg.NewPostgresRuleRepo(pool), redisClient, cfg.Redis.TTL)
	teamRepo := pg.NewPostgresTeamRepo(pool)
	aliasRepo := pg.NewPostgresAliasRepo(pool)
	postbackLog := pg.NewPostbackLogRepo(pool)
	notificationLog := pg.NewNotificationLogRepo(pool)
	txManager := pg.NewTxManager(pool)

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Locale)
	if err != nil {
		return err
	}
	logger.Info().Str("locale", tr.Lang()).Msg("translations loaded")

	// ---- Telegram sender ----
	var sender adapter.TelegramBotAdapter
	var tgSender *telegram.Sender
	if strings.EqualFold(cfg.Bot.Mode, "noop") {
		sender = telegram.NewNoopBot(logger)
		logger.Warn().Msg("bot.mode=noop: messages are logged, not sent")
	} else {
		if tgSender, err = telegram.NewSender(cfg.Bot.Token); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		sender = tgSender
	}

	// ---- Use cases ----
	partner := underdog.NewClient(cfg.Underdog, logger)
	dispatcher := usecase.NewDispatcher(sender, partner, notificationLog, logger)

	broadcastPool := worker.NewPool(cfg.Bot.Workers, logger)
	broadcastPool.Start(ctx)
	defer broadcastPool.Stop()

	userUC := usecase.NewUserUseCase(userRepo, teamRepo, txManager, cfg.Bot.AdminIDs, logger)
	teamUC := usecase.NewTeamUseCase(teamRepo, logger)
	ruleUC := usecase.NewRuleUseCase(ruleRepo, userRepo, logger)
	aliasUC := usecase.NewAliasUseCase(aliasRepo, logger)
	notifyUC := usecase.NewNotifyUseCase(partner, userRepo, dispatcher, broadcastPool, tr, cfg.Bot.AdminIDs, logger)
	postbackUC := usecase.NewPostbackUseCase(aliasRepo, ruleRepo, postbackLog, dispatcher, tr, cfg.DefaultRecipient(), logger)
	reportUC := usecase.NewReportUseCase(userRepo, postbackLog, logger)

	auth := api.NewAuthManager(cfg.HTTP.JWTSecret, cfg.HTTP.JWTTTL)
	facade := application.NewBotFacade(userUC, teamUC, ruleUC, aliasUC, notifyUC, reportUC, auth, tr, logger)

	// ---- Telegram polling ----
	if tgSender != nil {
		bot, err := telegram.NewBot(tgSender, &cfg.Bot, facade, rateLimiter, tr, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		if err := bot.SetCommands(); err != nil {
			logger.Warn().Err(err).Msg("failed to set bot commands")
		}
		go func() {
			if err := bot.StartPolling(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("telegram polling stopped")
			}
		}()
	}

	// ---- Scheduled polls ----
	if cfg.Scheduler.Enabled {
		if cfg.Underdog.BaseURL == "" {
			logger.Warn().Msg("scheduler enabled without underdog.base_url; polls are disabled")
		} else {
			poller, err := sched.NewPoller(cfg.Scheduler, notifyUC, locker, logger)
			if err != nil {
				return err
			}
			poller.Start(ctx)
			defer func() {
				if err := poller.Shutdown(); err != nil {
					logger.Warn().Err(err).Msg("poller shutdown")
				}
			}()
		}
	}

	// ---- HTTP ----
	server := api.NewServer(postbackUC, notifyUC, userUC, ruleUC, pool, auth, cfg.HTTP, logger).
		WithPollLock(locker, cfg.Scheduler.LockTTL)
	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
