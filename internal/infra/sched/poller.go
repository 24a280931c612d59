// Package sched runs the partner polls on a schedule.
package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"
	red "keitaro-notifier/internal/infra/redis"
	"keitaro-notifier/internal/usecase"
)

type job struct {
	kind     model.RecordKind
	interval time.Duration
	days     int
}

// Poller runs one gocron job per configured kind. Overlapping runs of the
// same kind are skipped, both inside the process (singleton mode) and across
// replicas (Redis lock).
type Poller struct {
	notify  usecase.NotifyUseCase
	locker  red.Locker
	dryRun  bool
	lockTTL time.Duration
	jobs    []job
	log     zerolog.Logger

	sched   gocron.Scheduler
	baseCtx context.Context
}

func NewPoller(cfg config.SchedulerConfig, notify usecase.NotifyUseCase, locker red.Locker, logger *zerolog.Logger) (*Poller, error) {
	p := &Poller{
		notify:  notify,
		locker:  locker,
		dryRun:  cfg.DryRun,
		lockTTL: cfg.LockTTL,
		log:     logger.With().Str("component", "poller").Logger(),
		baseCtx: context.Background(),
	}
	for _, jc := range cfg.Jobs {
		kind, err := model.ParseRecordKind(jc.Kind)
		if err != nil {
			return nil, fmt.Errorf("scheduler job %q: %w", jc.Kind, err)
		}
		if jc.Interval <= 0 {
			return nil, fmt.Errorf("scheduler job %q: interval must be positive", jc.Kind)
		}
		p.jobs = append(p.jobs, job{kind: kind, interval: jc.Interval, days: jc.Days})
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	for _, j := range p.jobs {
		j := j
		_, err := s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { p.run(p.baseCtx, j) }),
			gocron.WithName("poll:"+string(j.kind)),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.kind, err)
		}
	}
	p.sched = s
	return p, nil
}

// Start begins running jobs. ctx is the parent of every run.
func (p *Poller) Start(ctx context.Context) {
	p.baseCtx = ctx
	p.sched.Start()
	p.log.Info().Int("jobs", len(p.jobs)).Bool("dry_run", p.dryRun).Msg("poller started")
}

// Shutdown stops scheduling and waits for running jobs.
func (p *Poller) Shutdown() error {
	err := p.sched.Shutdown()
	p.log.Info().Msg("poller stopped")
	return err
}

func (p *Poller) run(ctx context.Context, j job) {
	kind := string(j.kind)
	ctx = logging.WithJob(logging.WithKind(ctx, kind), "poll:"+kind)
	log := logging.With(ctx, &p.log)

	if p.locker != nil {
		key := red.PollLockKey(kind)
		token, err := p.locker.TryLock(ctx, key, p.lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			metrics.IncPollRun(kind, "skipped")
			log.Info().Msg("poll already running elsewhere, skipped")
			return
		case err != nil:
			// best effort: partner-side flags keep a duplicate run from resending
			log.Warn().Err(err).Msg("poll lock unavailable, running unlocked")
		default:
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := p.locker.Unlock(unlockCtx, key, token); err != nil {
					log.Warn().Err(err).Msg("poll unlock failed")
				}
			}()
		}
	}

	start := time.Now()
	stats, err := p.notify.Run(ctx, usecase.NotifyRequest{Kind: j.kind, Days: j.days, DryRun: p.dryRun})
	metrics.ObservePoll(kind, time.Since(start))
	if err != nil {
		metrics.IncPollRun(kind, "failed")
		log.Error().Err(err).Msg("poll failed")
		return
	}
	metrics.IncPollRun(kind, "completed")
	log.Info().
		Int("total", stats.Total).
		Int("selected", stats.Selected).
		Int("notified_users", stats.NotifiedUsers).
		Int("errors", stats.Errors).
		Bool("dry_run", stats.DryRun).
		Dur("took", time.Since(start)).
		Msg("poll finished")
}
