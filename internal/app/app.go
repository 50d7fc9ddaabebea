package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/config"
	"taskhub/internal/database"
	"taskhub/internal/handlers"
	"taskhub/internal/middleware"
	"taskhub/internal/monitoring"
	"taskhub/internal/repositories"
	"taskhub/internal/routes"
	"taskhub/internal/services"
	"taskhub/internal/utils"
)

// Stores groups the repositories of the configured backend.
type Stores struct {
	Users repositories.UserRepository
	Tasks repositories.TaskRepository
	// DB is the underlying pool, used for health checks and shutdown.
	DB      *sql.DB
	migrate func(ctx context.Context) error
}

// Migrate creates or updates the schema.
func (s *Stores) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}

func (s *Stores) Close() error {
	return s.DB.Close()
}

// OpenStores connects to the database selected by cfg.Database.Driver.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		gdb, err := database.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite pool: %w", err)
		}
		log.WithField("dsn", cfg.DSN).Info("[db] using sqlite")
		return &Stores{
			Users: repositories.NewGormUserRepository(gdb),
			Tasks: repositories.NewGormTaskRepository(gdb),
			DB:    sqlDB,
			migrate: func(context.Context) error {
				return repositories.AutoMigrate(gdb)
			},
		}, nil
	case config.DriverPostgres:
		db, err := database.OpenPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Users: repositories.NewUserRepository(db),
			Tasks: repositories.NewTaskRepository(db),
			DB:    db,
			migrate: func(ctx context.Context) error {
				return database.CreateTables(ctx, db)
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

type App struct {
	cfg       *config.Config
	log       *logrus.Logger
	stores    *Stores
	router    *gin.Engine
	limiter   *middleware.RateLimiter
	scheduler *services.SchedulerService
	telegram  *services.TelegramNotifier

	Users services.UserService
	Tasks services.TaskService
}

// New opens the stores, migrates the schema and wires every layer.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	tokens, err := utils.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	// === DB ===
	stores, err := OpenStores(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := stores.Migrate(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// === Services ===
	telegram, err := services.NewTelegramNotifier(cfg.Telegram, log)
	if err != nil {
		// notifications are optional; keep serving without them
		log.WithError(err).Warn("[tg] disabled")
		telegram = nil
	}
	var notifier services.Notifier
	if telegram != nil {
		notifier = telegram
	}

	authService := services.NewAuthService(cfg.Auth.BcryptCost)
	emailService := services.NewEmailService(cfg.Email)
	userService := services.NewUserService(stores.Users, emailService, authService, log)
	taskService := services.NewTaskService(stores.Tasks, stores.Users, notifier, log)

	// === Handlers ===
	resp := handlers.NewResponder(log, !cfg.IsProduction())
	deps := routes.Deps{
		Tokens:     tokens,
		Users:      stores.Users,
		Auth:       handlers.NewAuthHandler(userService, tokens, resp, log),
		Tasks:      handlers.NewTaskHandler(taskService, resp, log),
		UsersAdmin: handlers.NewUserHandler(userService, resp),
		Health:     handlers.NewHealthHandler(stores.DB, resp),
		Responder:  resp,
		Metrics:    monitoring.NewMetrics(),
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.IdleTTL)
		deps.RateLimiter = limiter
	}

	// === Gin ===
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(log),
		middleware.Recovery(log, !cfg.IsProduction()),
		deps.Metrics.Middleware(),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.SecurityHeaders(cfg.IsProduction()),
	)
	routes.SetupRoutes(router, deps, log)

	return &App{
		cfg:       cfg,
		log:       log,
		stores:    stores,
		router:    router,
		limiter:   limiter,
		scheduler: services.NewSchedulerService(time.Local, log),
		telegram:  telegram,
		Users:     userService,
		Tasks:     taskService,
	}, nil
}

func (a *App) Router() http.Handler {
	return a.router
}

// startJobs registers the periodic jobs and starts the scheduler.
func (a *App) startJobs() error {
	if a.limiter != nil {
		sweepEvery := a.cfg.RateLimit.IdleTTL
		if sweepEvery <= 0 || sweepEvery > 10*time.Minute {
			sweepEvery = 10 * time.Minute
		}
		if _, err := a.scheduler.ScheduleInterval("ratelimit-sweep", sweepEvery, func() {
			if n := a.limiter.Sweep(); n > 0 {
				a.log.WithField("removed", n).Debug("[ratelimit] swept idle clients")
			}
		}); err != nil {
			return fmt.Errorf("schedule limiter sweep: %w", err)
		}
	}

	if a.telegram != nil && a.cfg.Telegram.DigestTime != "" {
		job := services.OverdueDigestJob(a.Tasks, a.telegram, a.log)
		if _, err := a.scheduler.ScheduleDaily("overdue-digest", a.cfg.Telegram.DigestTime, job); err != nil {
			return fmt.Errorf("schedule overdue digest: %w", err)
		}
		a.log.WithField("at", a.cfg.Telegram.DigestTime).Info("[digest] scheduled")
	}

	a.scheduler.Start()
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.startJobs(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{"addr": srv.Addr, "env": a.cfg.Server.Env}).Info("[http] server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("[http] shutting down")
	case err := <-errCh:
		runErr = fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("[http] forced shutdown")
	}

	a.Close()
	return runErr
}

// Close stops background jobs, flushes notifications and closes the database.
func (a *App) Close() {
	a.scheduler.Stop()
	a.Users.Wait()
	if a.telegram != nil {
		a.telegram.Wait()
	}
	if err := a.stores.Close(); err != nil {
		a.log.WithError(err).Warn("[db] close")
	}
}
