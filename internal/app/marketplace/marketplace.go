// Package marketplace собирает ядро маркетплейса: хранилище, кэш,
// очереди AMQP, сервисы и HTTP-сервер вебхука.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/brandonlmk/jobs-marketplace/internal/cache"
	"github.com/brandonlmk/jobs-marketplace/internal/config"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/decision"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/rabbitmq"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/migrations"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
	"github.com/brandonlmk/jobs-marketplace/internal/notify"
	approvalservice "github.com/brandonlmk/jobs-marketplace/internal/services/approval"
	dispatchservice "github.com/brandonlmk/jobs-marketplace/internal/services/dispatch"
	intakeservice "github.com/brandonlmk/jobs-marketplace/internal/services/intake"
	ledgerservice "github.com/brandonlmk/jobs-marketplace/internal/services/ledger"
	"github.com/brandonlmk/jobs-marketplace/internal/storage/repository"
)

// Exchange-ы ядра: исходящие уведомления и входящие события.
const (
	NotificationsExchange = "notifications"
	EventsExchange        = "events"
)

// App представляет основное приложение маркетплейса.
type App struct {
	server     *http.Server
	dispatcher *dispatchservice.Service
	conn       *amqp.Connection
	notifyCh   *amqp.Channel
	inboundCh  *amqp.Channel
	db         *repository.Storage
	logger     *slog.Logger
}

// New создает новый экземпляр приложения маркетплейса. Схему
// накатывает именно этот сервис, поэтому миграции выполняются сразу
// после подключения; зависимые воркеры ждут готовую схему сами.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.AMQPConnectionString, cfg.AMQPMaxRetries, cfg.AMQPRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	notifyCh, err := rabbitmq.SetupChannel(conn, NotificationsExchange, rabbitmq.GetNotificationQueues())
	if err != nil {
		closeResources(nil, nil, conn, logger)
		return nil, fmt.Errorf("failed to setup notifications channel: %w", err)
	}
	inboundCh, err := rabbitmq.SetupChannel(conn, EventsExchange, rabbitmq.GetInboundQueues())
	if err != nil {
		closeResources(notifyCh, nil, conn, logger)
		return nil, fmt.Errorf("failed to setup inbound channel: %w", err)
	}

	notifier := notify.New(notifyCh, NotificationsExchange)
	maker := decision.NewMaker(cfg.SecretKey)

	ledgerService := ledgerservice.New(db, cacheRedis, notifier, logger,
		cfg.ReviewerID, cfg.DistributionValid)
	approvalService := approvalservice.New(db, ledgerService, notifier, maker, logger,
		cfg.ReviewerID, cfg.BroadcastChannel, cfg.ShortlistBonus)
	intakeService := intakeservice.New(db, approvalService, notifier, logger,
		cfg.JobPostCost, cfg.JobRepostCost)
	dispatchService := dispatchservice.New(intakeService, approvalService, ledgerService,
		db, notifier, maker, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, dispatchService, db)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		dispatcher: dispatchService,
		conn:       conn,
		notifyCh:   notifyCh,
		inboundCh:  inboundCh,
		db:         db,
		logger:     logger,
	}, nil
}

// Run запускает потребителя входящих событий и HTTP-сервер, завершая
// оба по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	if err := rabbitmq.ConsumerMessage(ctx, a.inboundCh, "marketplace.events", a.handleInbound(ctx)); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		closeResources(a.notifyCh, a.inboundCh, a.conn, a.logger)
		if dbErr := a.db.DB.Close(); dbErr != nil {
			a.logger.Error("failed to close database", sl.Err(dbErr))
		}
		return err
	}
}

// handleInbound разбирает сообщение очереди и передаёт его диспетчеру.
// Нечитаемое сообщение подтверждается: requeue не превратит его в
// валидное событие.
func (a *App) handleInbound(ctx context.Context) func([]byte) error {
	return func(body []byte) error {
		var event models.InboundEvent
		if err := json.Unmarshal(body, &event); err != nil {
			a.logger.Error("failed to unmarshal inbound event", sl.Err(err))
			return nil
		}
		return a.dispatcher.Dispatch(ctx, event)
	}
}

func closeResources(notifyCh, inboundCh *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	for _, ch := range []*amqp.Channel{notifyCh, inboundCh} {
		if ch != nil {
			if err := ch.Close(); err != nil {
				logger.Error("failed to close channel", sl.Err(err))
			}
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}
