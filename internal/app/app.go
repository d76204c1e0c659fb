// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/jobboard-notify/internal/auth"
	"github.com/bissquit/jobboard-notify/internal/config"
	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/intake"
	"github.com/bissquit/jobboard-notify/internal/notifications"
	"github.com/bissquit/jobboard-notify/internal/notifications/email"
	notificationsmongo "github.com/bissquit/jobboard-notify/internal/notifications/mongo"
	"github.com/bissquit/jobboard-notify/internal/notifications/postmark"
	"github.com/bissquit/jobboard-notify/internal/notifications/webhook"
	"github.com/bissquit/jobboard-notify/internal/pkg/ctxlog"
	"github.com/bissquit/jobboard-notify/internal/pkg/httputil"
	"github.com/bissquit/jobboard-notify/internal/pkg/metrics"
	pkgmongo "github.com/bissquit/jobboard-notify/internal/pkg/mongo"
	"github.com/bissquit/jobboard-notify/internal/pkg/postgres"
	pkgredis "github.com/bissquit/jobboard-notify/internal/pkg/redis"
	"github.com/bissquit/jobboard-notify/internal/preferences"
	preferencesmongo "github.com/bissquit/jobboard-notify/internal/preferences/mongo"
	"github.com/bissquit/jobboard-notify/internal/queue"
	queuepostgres "github.com/bissquit/jobboard-notify/internal/queue/postgres"
	"github.com/bissquit/jobboard-notify/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const metricsInterval = 15 * time.Second

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // nil with the memory store
	mongo         *mongo.Client
	redis         *redis.Client // nil when the cache is disabled
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	queueService *queue.Service
	worker       *queue.Worker
	sweeper      *queue.Sweeper
	intake       *intake.Consumer // nil when intake is disabled
	readiness    []readinessCheck
}

// New connects the backing stores and assembles the queue, workers and HTTP servers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	app := &App{config: cfg, logger: logger}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	if err := app.connect(connectCtx); err != nil {
		app.closeStores()
		return nil, err
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel

	router, err := app.setupRouter(connectCtx)
	if err != nil {
		metricsCancel()
		app.closeStores()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	go app.collectMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.config

	if cfg.Queue.Store == config.StorePostgres {
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(cfg.Database.URL); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}

		db, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.readiness = append(a.readiness, readinessCheck{name: "postgres", check: db.Ping})
	}

	mongoClient, err := pkgmongo.Connect(ctx, pkgmongo.Config{
		URI:             cfg.Mongo.URI,
		Database:        cfg.Mongo.Database,
		MaxPoolSize:     cfg.Mongo.MaxPoolSize,
		ConnectTimeout:  cfg.Mongo.ConnectTimeout,
		ConnectAttempts: cfg.Mongo.ConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	a.mongo = mongoClient
	a.readiness = append(a.readiness, readinessCheck{name: "mongo", check: pkgmongo.Healthcheck(mongoClient)})

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.Connect(ctx, pkgredis.Config{
			URL:             cfg.Redis.URL,
			ConnectAttempts: cfg.Redis.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = redisClient
		a.readiness = append(a.readiness, readinessCheck{name: "redis", check: pkgredis.Healthcheck(redisClient)})
	}

	return nil
}

// Run starts the background workers and the HTTP servers.
func (a *App) Run(ctx context.Context) error {
	// Background loops end through Shutdown, not through ctx, so a signal
	// cannot abort a send or a settle that Shutdown is about to wait for.
	bg := context.WithoutCancel(ctx)
	if a.worker != nil {
		a.worker.Start(bg)
	}
	if a.sweeper != nil {
		a.sweeper.Start(bg)
	}
	if a.intake != nil {
		a.intake.Start(bg)
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the workers, then the servers, then closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	// Stop intake and workers first so in-flight deliveries settle before the stores close.
	if a.intake != nil {
		a.intake.Stop()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("disconnect mongo: %w", err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	return errors.Join(errs...)
}

func (a *App) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		a.recordMetrics(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) recordMetrics(ctx context.Context) {
	if a.db != nil {
		metrics.RecordPostgresPool(a.db)
	}
	if a.redis != nil {
		metrics.RecordRedisPool(a.redis)
	}

	stats, err := a.queueService.GetQueueStats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("failed to get queue stats", "error", err)
		}
		return
	}
	queue.RecordQueueStats(stats)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Worker returns the queue worker, or nil when delivery is disabled on this node.
func (a *App) Worker() *queue.Worker {
	return a.worker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	cfg := a.config

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	db := a.mongo.Database(cfg.Mongo.Database)

	records := notificationsmongo.NewRepository(db)
	if err := records.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure notification indexes: %w", err)
	}

	var prefRepo preferences.Repository = preferencesmongo.NewRepository(db)
	if a.redis != nil {
		prefRepo = preferences.NewCachedRepository(prefRepo, a.redis, cfg.Redis.PreferenceTTL)
	}
	oracle := preferences.NewOracle(prefRepo)

	var queueRepo queue.Repository
	if a.db != nil {
		queueRepo = queuepostgres.NewRepository(a.db)
	} else {
		a.logger.Warn("using in-memory queue store, items do not survive restarts")
		queueRepo = queue.NewMemoryRepository()
	}

	a.queueService = queue.NewService(queue.ServiceConfig{
		DefaultPriority:   cfg.Queue.DefaultPriority,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		Backoff: queue.Backoff{
			Initial:    cfg.Retry.InitialBackoff,
			Max:        cfg.Retry.MaxBackoff,
			Multiplier: cfg.Retry.Multiplier,
		},
		StuckThreshold: cfg.Queue.StuckThreshold,
		SweepBatchSize: cfg.Queue.SweepBatchSize,
	}, queueRepo, records)

	if cfg.Queue.WorkerEnabled {
		dispatcher, err := a.newDispatcher()
		if err != nil {
			return nil, err
		}

		a.worker = queue.NewWorker(queue.WorkerConfig{
			Node:         nodeName(cfg.Queue.NodeName),
			BatchSize:    cfg.Queue.BatchSize,
			PollInterval: cfg.Queue.PollInterval,
			NumWorkers:   cfg.Queue.Workers,
			SendTimeout:  cfg.Queue.SendTimeout,
		}, a.queueService, records, oracle, dispatcher)

		a.sweeper = queue.NewSweeper(queue.SweeperConfig{
			SweepInterval:   cfg.Queue.SweepInterval,
			CleanupInterval: cfg.Queue.CleanupInterval,
			RetentionDays:   cfg.Queue.RetentionDays,
		}, a.queueService)
	}

	if cfg.Intake.Enabled {
		a.intake = intake.NewConsumer(intake.Config{
			URL:         cfg.Intake.AMQPURL,
			Queue:       cfg.Intake.Queue,
			ConsumerTag: cfg.Intake.ConsumerTag,
			Prefetch:    cfg.Intake.Prefetch,
		}, a.queueService)
	}

	queueHandler := queue.NewHandler(a.queueService)

	var verifier httputil.TokenValidator
	if cfg.Auth.Enabled {
		v, err := auth.NewVerifier(auth.Config{
			SecretKey: cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Leeway:    cfg.Auth.Leeway,
		})
		if err != nil {
			return nil, fmt.Errorf("create token verifier: %w", err)
		}
		verifier = v
	} else {
		a.logger.Warn("queue API authentication is disabled")
	}

	r.Route("/api/v1", func(r chi.Router) {
		if verifier != nil {
			r.Use(httputil.AuthMiddleware(verifier))
			r.Use(httputil.RequireRole(domain.RoleOperator))
		}
		queueHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) newDispatcher() (*notifications.Dispatcher, error) {
	cfg := a.config

	var senders []notifications.Sender
	switch {
	case cfg.Email.Enabled && cfg.Email.Provider == config.EmailProviderPostmark:
		sender, err := postmark.NewSender(postmark.Config{
			ServerToken:  cfg.Email.PostmarkServerToken,
			AccountToken: cfg.Email.PostmarkAccountToken,
			FromAddress:  cfg.Email.FromAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("create postmark sender: %w", err)
		}
		senders = append(senders, sender)
	case cfg.Email.Enabled:
		sender, err := email.NewSender(email.Config{
			SMTPHost:      cfg.Email.SMTPHost,
			SMTPPort:      cfg.Email.SMTPPort,
			SMTPUser:      cfg.Email.SMTPUser,
			SMTPPassword:  cfg.Email.SMTPPassword,
			FromAddress:   cfg.Email.FromAddress,
			RatePerSecond: cfg.Email.RatePerSecond,
			Burst:         cfg.Email.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
		senders = append(senders, sender)
	}
	if cfg.Webhook.Enabled {
		senders = append(senders, webhook.NewSender(webhook.Config{
			Secret:    cfg.Webhook.Secret,
			UserAgent: "jobboard-notify/" + version.Version,
			Timeout:   cfg.Webhook.Timeout,
		}))
	}

	dispatcher := notifications.NewDispatcher(senders...)
	if len(senders) == 0 {
		a.logger.Warn("no delivery channels enabled, every claimed item will fail")
	}
	a.logger.Info("delivery channels configured", "channels", dispatcher.Channels())
	return dispatcher, nil
}

// nodeName identifies this process in processing_node.
func nodeName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		host = "notifyd"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, rc := range a.readiness {
		if err := rc.check(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "store", rc.name, "error", err)
			httputil.Error(w, http.StatusServiceUnavailable, rc.name+" unavailable")
			return
		}
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
