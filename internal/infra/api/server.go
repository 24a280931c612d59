package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/infra/logging"
	red "keitaro-notifier/internal/infra/redis"
	"keitaro-notifier/internal/usecase"
)

// Pinger reports database reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the tracker postback endpoint, manual notification runs and
// the read-only admin API.
type Server struct {
	postbackUC usecase.PostbackUseCase
	notifyUC   usecase.NotifyUseCase
	userUC     usecase.UserUseCase
	ruleUC     usecase.RuleUseCase
	db         Pinger
	auth       *AuthManager
	cfg        config.HTTPConfig
	log        *zerolog.Logger

	locker  red.Locker
	lockTTL time.Duration

	srv *http.Server
}

func NewServer(
	postbackUC usecase.PostbackUseCase,
	notifyUC usecase.NotifyUseCase,
	userUC usecase.UserUseCase,
	ruleUC usecase.RuleUseCase,
	db Pinger,
	auth *AuthManager,
	cfg config.HTTPConfig,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "api").Logger()
	return &Server{
		postbackUC: postbackUC,
		notifyUC:   notifyUC,
		userUC:     userUC,
		ruleUC:     ruleUC,
		db:         db,
		auth:       auth,
		cfg:        cfg,
		log:        &l,
	}
}

// WithPollLock makes live notify runs share the scheduler's per-kind lock.
func (s *Server) WithPollLock(locker red.Locker, ttl time.Duration) *Server {
	s.locker = locker
	s.lockTTL = ttl
	return s
}

// pollLock takes the poll lock for kind. It returns domain.ErrLockHeld when a
// scheduled or manual run owns it. Redis failures run unlocked, like the
// scheduler does.
func (s *Server) pollLock(ctx context.Context, kind string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	key := red.PollLockKey(kind)
	token, err := s.locker.TryLock(ctx, key, s.lockTTL)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		return noop, err
	case err != nil:
		logging.With(ctx, s.log).Warn().Err(err).Msg("poll lock unavailable, running unlocked")
		return noop, nil
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Unlock(unlockCtx, key, token); err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("poll unlock failed")
		}
	}, nil
}

// Routes builds the chi router with the guard middlewares applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Timeout(s.cfg.RequestTimeout))

		r.Get("/db/ping", s.handleDBPing)

		r.With(PostbackToken(s.cfg.PostbackToken)).Get("/keitaro/postback", s.handlePostback)
		r.With(PostbackToken(s.cfg.PostbackToken)).Post("/keitaro/postback", s.handlePostback)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/notify/{kind}", s.handleNotify)
			r.Get("/users", s.handleUsers)
			r.Get("/rules", s.handleRules)
		})
	})
	return r
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
