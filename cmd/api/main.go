package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"circulationapi/internal/circulation"
	"circulationapi/internal/config"
	"circulationapi/internal/entity"
	"circulationapi/internal/events"
	"circulationapi/internal/fine"
	"circulationapi/internal/httpx"
	"circulationapi/internal/stats"
	"circulationapi/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg)
	log.Logger = logger

	dbPool := mustOpenDB(cfg.DBDSN)
	defer dbPool.Close()

	journal := store.NewPGJournal(dbPool, cfg.DBOpTimeout)
	journals := []store.Journal{journal}

	if cfg.RabbitMQURL != "" {
		publisher, err := events.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to rabbitmq")
		}
		defer publisher.Close()
		journals = append(journals, publisher)
		logger.Info().Str("exchange", cfg.RabbitMQExchange).Msg("publishing circulation events")
	}

	writeBehind := store.NewWriteBehind(logger.With().Str("component", "write-behind").Logger(), cfg.JournalBuffer, cfg.DBOpTimeout, journals...)
	st := store.New(store.WithObserver(writeBehind))

	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := journal.Restore(restoreCtx, st); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("cannot restore store from database")
	}
	cancel()
	snap := st.Snapshot()
	logger.Info().Int("books", len(snap.Books)).Int("accounts", len(snap.Accounts)).Msg("store restored")

	svc := circulation.NewService(st,
		circulation.WithPolicy(fine.NewPolicy(cfg.LoanPeriodDays, entity.Money(cfg.FinePerDayCents))),
		circulation.WithLimits(circulation.Limits{Member: cfg.MaxLoansMember, Admin: cfg.MaxLoansAdmin}),
		circulation.WithLogger(logger.With().Str("component", "circulation").Logger()),
	)

	if cfg.AdminPassword != "" {
		if _, err := svc.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
			logger.Fatal().Err(err).Msg("cannot create bootstrap administrator")
		}
	} else if len(snap.Accounts) == 0 {
		logger.Warn().Msg("no accounts exist and ADMIN_PASSWORD is unset; nobody can register users")
	}

	rateLimiter := httpx.NewRateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer rateLimiter.Stop()

	handler := newRouter(routerDeps{
		Circulation:  circulation.NewHTTPHandler(svc, cfg.JWTSecret, cfg.TokenTTL, logger),
		Stats:        stats.NewHTTPHandler(stats.NewAggregator(st)),
		JWTSecret:    cfg.JWTSecret,
		Ready:        dbPool.Ping,
		Logger:       logger,
		CORSOrigins:  cfg.CORSOrigins,
		EnableHSTS:   cfg.EnableHSTS,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateLimiter:  rateLimiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := writeBehind.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("journal did not drain before shutdown")
	}
	logger.Info().Msg("stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("service", "circulationapi").Logger()
}

func mustOpenDB(dsn string) *pgxpool.Pool {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create db pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		log.Fatal().Err(err).Str("dsn", config.RedactDSN(dsn)).Msg("cannot ping database")
	}
	log.Info().Msg("database connection OK")
	return pool
}
