package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"live-classroom-service/internal/app"
	"live-classroom-service/internal/config"
	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/infra/memory"
	natsbus "live-classroom-service/internal/infra/nats"
	"live-classroom-service/internal/infra/postgres"
	redisinfra "live-classroom-service/internal/infra/redis"
	"live-classroom-service/internal/metrics"
	transport "live-classroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(parent context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	var db *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		db = postgres.OpenBun(cfg.Postgres.URL)
		defer db.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = postgres.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL, logger)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	var metricsHandler http.Handler
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	bus, closeBus, err := buildBus(cfg, redisClient, logger, m)
	if err != nil {
		return err
	}
	defer closeBus()

	var sink app.ResultSink = memory.NewResultLog(logger)
	if db != nil {
		sink = postgres.NewResultSink(db)
	}

	service := app.NewLiveService(ctx, store, quizRepo, bus,
		app.WithSessionConfig(sessionConfig(cfg)),
		app.WithLogger(logger),
		app.WithMetrics(m),
		app.WithResultSink(sink),
		app.WithCodeLength(cfg.Session.CodeLength),
	)
	wsHandler := transport.NewWSHandler(service, logger)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service, wsHandler, metricsHandler),
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", finalPort).Str("bus", cfg.BusDriver()).Msg("starting live classroom service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	// Hosts close with ctx; give pending result writes a chance to land.
	service.Wait()
	return err
}

func buildBus(cfg config.Config, redisClient *redis.Client, logger zerolog.Logger, m *metrics.Metrics) (app.Bus, func(), error) {
	switch cfg.BusDriver() {
	case config.BusMemory:
		b := memory.NewBus(logger).WithMetrics(m)
		return b, func() { _ = b.Close() }, nil
	case config.BusRedis:
		if redisClient == nil {
			return nil, nil, errors.New("bus.driver redis requires redis.addr")
		}
		return redisinfra.NewBus(redisClient, logger).WithMetrics(m), func() {}, nil
	case config.BusNATS:
		nc, err := natsbus.Connect(cfg.Bus.NatsURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return natsbus.NewBus(nc, logger).WithMetrics(m), func() { _ = nc.Drain() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

func sessionConfig(cfg config.Config) app.SessionConfig {
	defaults := app.DefaultSessionConfig()
	sc := app.SessionConfig{
		QuestionWindow:     config.TTLDuration(cfg.Session.QuestionWindow, defaults.QuestionWindow),
		GracePeriod:        config.TTLDuration(cfg.Session.GracePeriod, defaults.GracePeriod),
		BaseScore:          cfg.Session.BaseScore,
		ParticipantTimeout: config.TTLDuration(cfg.Session.ParticipantTimeout, defaults.ParticipantTimeout),
	}
	if sc.BaseScore <= 0 {
		sc.BaseScore = defaults.BaseScore
	}
	return sc
}

// sampleQuizzes is served when no Postgres loader is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					Prompt:       "What is 2 + 2?",
					Options:      []string{"3", "4", "5"},
					CorrectIndex: 1,
					Explanation:  "Two pairs make four.",
				},
				{
					Prompt:       "Which planet is closest to the sun?",
					Options:      []string{"Venus", "Earth", "Mercury", "Mars"},
					CorrectIndex: 2,
				},
				{
					Prompt:       "H2O is the formula for?",
					Options:      []string{"Salt", "Water", "Hydrogen peroxide"},
					CorrectIndex: 1,
				},
			},
		},
	}
}
