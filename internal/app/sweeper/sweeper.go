// Package sweeper собирает фоновое приложение очисток: обнуление
// просроченных балансов и обслуживание подписок.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/brandonlmk/jobs-marketplace/internal/cache"
	"github.com/brandonlmk/jobs-marketplace/internal/config"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/rabbitmq"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/notify"
	ledgerservice "github.com/brandonlmk/jobs-marketplace/internal/services/ledger"
	sweeperservice "github.com/brandonlmk/jobs-marketplace/internal/services/sweeper"
	"github.com/brandonlmk/jobs-marketplace/internal/storage/repository"
)

// NotificationsExchange exchange исходящих уведомлений, общий с
// основным приложением.
const NotificationsExchange = "notifications"

// App представляет приложение очисток.
type App struct {
	sweeperService *sweeperservice.SweeperService
	conn           *amqp.Connection
	ch             *amqp.Channel
	db             *repository.Storage
	logger         *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for i := 0; i < 10; i++ {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения очисток.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.AMQPConnectionString, cfg.AMQPMaxRetries, cfg.AMQPRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, NotificationsExchange, rabbitmq.GetNotificationQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	notifier := notify.New(ch, NotificationsExchange)
	ledgerService := ledgerservice.New(db, cacheRedis, notifier, logger,
		cfg.ReviewerID, cfg.DistributionValid)
	sweeperService := sweeperservice.NewSweeperService(ledgerService, logger, cfg.SweepInterval)

	return &App{
		sweeperService: sweeperService,
		conn:           conn,
		ch:             ch,
		db:             db,
		logger:         logger,
	}, nil
}

// Run запускает проходы очистки до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	a.sweeperService.Run(ctx)

	a.logger.Info("shutting down sweeper")
	closeResources(a.ch, a.conn, a.logger)
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}
