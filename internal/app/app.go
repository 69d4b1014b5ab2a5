// Package app assembles the store, collaborators and services from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/api"
	"rentflow/internal/config"
	"rentflow/internal/database"
	"rentflow/internal/domain"
	"rentflow/internal/events"
	"rentflow/internal/export"
	"rentflow/internal/logging"
	"rentflow/internal/notify"
	"rentflow/internal/repository"
	"rentflow/internal/service"
	"rentflow/internal/sweeper"
	"rentflow/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type App struct {
	Config *config.Config

	DB        *database.DB
	Redis     *redis.Client
	Limiter   domain.Limiter
	Transport domain.Transport
	Bus       *events.Bus
	Worker    *worker.NotificationWorker

	Properties    *service.PropertyService
	Bookings      *service.BookingService
	Messages      *service.MessageService
	Reviews       *service.ReviewService
	Notifications *service.NotificationService

	Sweeper  *sweeper.Sweeper
	Backup   *database.BackupService
	Exporter *export.Exporter

	logger *zerolog.Logger
}

// New opens the store, syncs the catalog and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db

	a.Properties = service.NewPropertyService(db, logging.Component(logger, "catalog"))
	if err := a.Properties.Sync(ctx, cfg.Properties); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("sync properties: %w", err)
	}

	a.Redis = initRedis(ctx, cfg.Redis, logger)
	if a.Redis == nil && cfg.Notifications.Transport == config.TransportRedis {
		_ = a.Close()
		return nil, errors.New("redis notification transport configured but redis is unavailable")
	}
	if a.Redis != nil {
		a.Limiter = repository.NewFailoverLimiter(
			repository.NewRedisLimiter(a.Redis),
			repository.NewMemoryLimiter(),
			logging.Component(logger, "limiter"),
		)
	} else {
		a.Limiter = repository.NewMemoryLimiter()
	}

	a.Transport, err = worker.NewTransport(cfg.Notifications, cfg.AMQP, a.Redis, logging.Component(logger, "transport"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("notification transport: %w", err)
	}
	a.Worker = worker.NewNotificationWorker(db, a.Transport, worker.Options{
		Retry:        worker.PolicyFromConfig(cfg.Notifications.Retry),
		PollInterval: cfg.Notifications.PollInterval,
		BatchSize:    cfg.Notifications.BatchSize,
	}, logging.Component(logger, "notification-worker"))

	a.Bus = events.NewBus(logging.Component(logger, "events"))
	dispatcher := notify.NewDispatcher(db, a.Worker, logging.Component(logger, "dispatcher"))
	a.Bus.SubscribeAll(events.AuditLog(logging.Component(logger, "audit")))
	a.Bus.SubscribeAll(dispatcher.Handle)

	a.Bookings = service.NewBookingService(db, db, a.Bus, logging.Component(logger, "bookings"),
		service.WithMaxAdvanceDays(cfg.Booking.MaxAdvanceDays))
	a.Messages = service.NewMessageService(a.Bookings, db, a.Limiter, a.Bus,
		cfg.Messaging.RateLimitMessages, time.Duration(cfg.Messaging.RateLimitWindow)*time.Second,
		logging.Component(logger, "messages"))
	a.Reviews = service.NewReviewService(a.Bookings, db, a.Bus, logging.Component(logger, "reviews"))
	a.Notifications = service.NewNotificationService(db)

	a.Sweeper = sweeper.New(db, db, a.Bus, logger, sweeper.WithLease(a.Limiter, cfg.Sweeper.LeaseTTL))
	a.Backup = database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	a.Exporter = export.NewExporter(db, cfg.Exports.Path, logging.Component(logger, "export"))
	return a, nil
}

// APIServices exposes the use cases to the HTTP layer.
func (a *App) APIServices() api.Services {
	return api.Services{
		Bookings:      a.Bookings,
		Messages:      a.Messages,
		Reviews:       a.Reviews,
		Notifications: a.Notifications,
		Properties:    a.Properties,
	}
}

// SweepOptions returns the configured sweep parameters.
func (a *App) SweepOptions() sweeper.Options {
	return sweeper.Options{
		BatchSize:    a.Config.Sweeper.BatchSize,
		LookbackDays: a.Config.Sweeper.Lookback(),
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Transport != nil {
		errs = append(errs, a.Transport.Close())
	}
	if a.Redis != nil {
		errs = append(errs, repository.Close(a.Redis))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) *redis.Client {
	if cfg.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return client
}
