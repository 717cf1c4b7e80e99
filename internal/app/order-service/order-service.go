package orderservice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/khabusiness/rusbridge-orders/internal/cache"
	"github.com/khabusiness/rusbridge-orders/internal/catalog"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/lib/jwt"
	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/migrations"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
	"github.com/khabusiness/rusbridge-orders/internal/paymentprovider/robokassa"
	"github.com/khabusiness/rusbridge-orders/internal/services/adminops"
	"github.com/khabusiness/rusbridge-orders/internal/services/admission"
	confirmservice "github.com/khabusiness/rusbridge-orders/internal/services/confirmation"
	"github.com/khabusiness/rusbridge-orders/internal/services/expiration"
	ordersvc "github.com/khabusiness/rusbridge-orders/internal/services/order"
	"github.com/khabusiness/rusbridge-orders/internal/services/reminder"
	"github.com/khabusiness/rusbridge-orders/internal/storage/repository"
)

// App собирает все зависимости сервиса заказов: HTTP-сервер, хранилище,
// кэш, брокер уведомлений и фоновые обходчики таймаутов и напоминаний.
type App struct {
	server     *http.Server
	logger     *slog.Logger
	db         *repository.Storage
	amqpConn   *amqp.Connection
	expiration *expiration.Service
	reminder   *reminder.Service
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	amqpConn, err := rabbitmq.Connect(cfg.RabbitURL, 5, 3*time.Second)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(amqpConn, rabbitmq.GetNotificationQueues())
	if err != nil {
		return nil, err
	}
	notifier := notify.NewAMQPNotifier(ch)

	cat, err := catalog.Load(cfg.ProductsFile)
	if err != nil {
		return nil, err
	}

	paymentClient, err := robokassa.New(cfg.Robokassa)
	if err != nil {
		return nil, err
	}

	jwtMaker := jwt.NewMaker(cfg.Admin.JWTSecretKey, cfg.Admin.TokenTTL)

	admissionService := admission.New(db, cacheRedis, cfg.Limits, logger)
	orderService := ordersvc.New(db, admissionService, paymentClient, notifier,
		cacheRedis, cat, cfg.Limits, logger)
	confirmationService := confirmservice.New(db, paymentClient, notifier, cacheRedis, cfg.Limits, logger)
	adminService := adminops.New(db, notifier, cacheRedis, cat, cfg.Admin, logger)
	expirationService := expiration.New(db, notifier, cacheRedis, cfg.Limits, logger)
	reminderService := reminder.New(db, notifier, cfg.Limits, logger)

	router := chi.NewRouter()

	RegisterRoutes(router, logger, orderService, confirmationService, adminService,
		jwtMaker, cfg.Admin.DebugSnapshot)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		logger:     logger,
		db:         db,
		amqpConn:   amqpConn,
		expiration: expirationService,
		reminder:   reminderService,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	go a.expiration.Run(ctx)
	go a.reminder.Run(ctx)

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
		a.amqpConn.Close()
		a.db.DB.Close()
		return err
	}
}
