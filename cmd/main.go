/**
 * @description
 * This is the main entry point for the disbursement service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - github.com/spf13/cobra: The serve and migrate commands.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Review rate limiting.
 * - golang.org/x/sync/errgroup: Lifecycle of the server and background workers.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/api"
	"github.com/FilPassOps/FilPass-sub000/internal/app"
	"github.com/FilPassOps/FilPass-sub000/internal/config"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/pkg/complianceclient"
	"github.com/FilPassOps/FilPass-sub000/pkg/fieldcrypto"
	"github.com/FilPassOps/FilPass-sub000/pkg/filestore"
	"github.com/FilPassOps/FilPass-sub000/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "disbursement-service",
		Short: "Transfer request review and disbursement service",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox dispatcher, event consumer and scheduler",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.WithField("component", "bootstrap").Info("migrations applied")
			return nil
		},
	}
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (config.Config, *logrus.Logger, error) {
	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("value", cfg.LogLevel).Warn("invalid LOG_LEVEL; using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// openPool establishes a connection pool to the PostgreSQL database.
func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL must be configured")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}

	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = min(20, cfg.DBMaxConns)
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return pool, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	log := logger.WithField("component", "bootstrap")

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("JWT_SECRET must be configured")
	}
	if cfg.ComplianceServiceURL == "" {
		return errors.New("COMPLIANCE_SERVICE_URL must be configured")
	}
	codec, err := fieldcrypto.New(cfg.EncryptionKey, cfg.PIIEncryptionKey)
	if err != nil {
		return fmt.Errorf("field encryption keys: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("port", cfg.ServerPort).Info("starting disbursement service")

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("database connected")

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}

	repository := store.NewPostgresRepository(pool)
	repository.ConfigureTxLimits(cfg.TxMaxWait(), cfg.TxTimeout())

	if cfg.FileServiceURL == "" {
		log.Warn("file service url missing; attachment checks will fail")
	}
	service := app.NewService(
		repository,
		codec,
		complianceclient.NewClient(cfg.ComplianceServiceURL, cfg.InternalAPIKey),
		filestore.NewClient(cfg.FileServiceURL, cfg.InternalAPIKey),
		app.Options{Exchange: cfg.EventsExchange, Logger: logger.WithField("service", "disbursement")},
	)

	var limiter api.ReviewLimiter
	if redisClient := newRedisClient(ctx, cfg, log); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisReviewRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.ReviewRateLimitPerMinute, time.Minute)
	}

	handlers := api.NewHandlers(service, logger.WithField("service", "disbursement"))
	router := api.Routes(handlers, api.RouterOptions{
		JWTSecret:      cfg.JWTSecret,
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		ReviewLimiter:  limiter,
	})

	publisherLog := logger.WithField("component", "rabbitmq")
	dispatcher := app.NewOutboxDispatcher(repository, func() (rabbitmq.Publisher, error) {
		if cfg.RabbitMQURL == "" {
			return &rabbitmq.EventProducerFallback{Log: publisherLog}, nil
		}
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, publisherLog)
		if err != nil {
			return nil, err
		}
		return producer, nil
	}, app.DispatcherOptions{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval(),
		Logger:       logger.WithField("service", "disbursement"),
	})

	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL == "" {
		log.Warn("rabbitmq url missing; event consumer disabled")
	} else {
		consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, publisherLog)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer init failed: %w", err)
		}
		defer consumer.Close()

		bindings := app.NewEventConsumer(service, logger.WithField("service", "disbursement")).Bindings()
		if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.EventQueue, bindings); err != nil {
			return fmt.Errorf("event consumer start failed: %w", err)
		}
	}

	scheduler := app.NewScheduler(repository, logger.WithField("service", "disbursement"), app.SchedulerConfig{
		OutboxCleanupSchedule: cfg.OutboxCleanupSchedule,
		OutboxRetention:       cfg.OutboxRetention(),
	})
	scheduler.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"component": "http", "addr": server.Addr}).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			select {
			case <-consumer.Done():
				return errors.New("rabbitmq consumer stopped")
			case <-gctx.Done():
				return nil
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.WithField("component", "http").Info("shutdown started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithField("component", "http").WithError(err).Error("shutdown failed")
		}
		<-scheduler.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.WithField("component", "http").Info("shutdown complete")
	return nil
}

// newRedisClient connects to redis for review rate limiting. A nil client
// disables limiting.
func newRedisClient(ctx context.Context, cfg config.Config, log *logrus.Entry) *redis.Client {
	if cfg.ReviewRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		log.WithField("env", "REDIS_URL").Warn("redis url missing; review rate limiting disabled")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("redis url parse failed; review rate limiting disabled")
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis ping failed; review rate limiting disabled")
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
