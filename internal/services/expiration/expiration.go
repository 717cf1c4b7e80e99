// Package expiration закрывает просроченные заказы по таймауту. Планировщик
// опрашивает время входа в статус, а не держит таймер на каждый заказ,
// поэтому перезапуск процесса не теряет просроченные заказы.
package expiration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/cache"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/metrics"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
)

// Repository определяет методы хранилища для просрочки заказов.
type Repository interface {
	ListOrdersInStatusBefore(ctx context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error)
	TransitionOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
		trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error)
}

// Notifier публикует уведомления для чат-бота.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// OrderCache сбрасывает кэшированные снимки заказов после просрочки.
type OrderCache interface {
	Invalidate(key string) error
}

type Service struct {
	repo     Repository
	notifier Notifier
	cache    OrderCache
	limits   config.Limits
	log      *slog.Logger
}

func New(repo Repository, notifier Notifier, orderCache OrderCache, limits config.Limits, log *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, cache: orderCache, limits: limits, log: log}
}

// Run запускает периодический обход до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.sweepLogged(ctx)

	ticker := time.NewTicker(s.limits.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *Service) sweepLogged(ctx context.Context) {
	count, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("expiration sweep failed", sl.Err(err))
		return
	}
	if count > 0 {
		s.log.Info("expiration sweep finished", slog.Int("expired", count))
	}
}

// Sweep закрывает все просроченные заказы и возвращает их количество.
// Неудача по одному заказу не прерывает обход; проигрыш гонки с конкурентным
// переходом просто пропускает заказ.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	total := 0

	windows := []struct {
		status  models.OrderStatus
		timeout time.Duration
		reason  string
	}{
		{models.StatusWaitPay, s.limits.WaitPayTimeout, "payment timeout"},
		{models.StatusWaitServiceLink, s.limits.WaitServiceLinkTimeout, "service link timeout"},
	}

	for _, w := range windows {
		expired, err := s.sweepStatus(ctx, w.status, now.Add(-w.timeout), w.reason)
		if err != nil {
			return total, err
		}
		total += expired
	}
	return total, nil
}

func (s *Service) sweepStatus(ctx context.Context, status models.OrderStatus, cutoff time.Time, reason string) (int, error) {
	orders, err := s.repo.ListOrdersInStatusBefore(ctx, status, cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, order := range orders {
		updated, err := s.repo.TransitionOrder(ctx, order.OrderID, status, models.StatusExpired,
			models.TriggerTimeout, reason, models.OrderUpdate{
				ErrorCode: models.Ptr("TIMEOUT"),
				ErrorText: models.Ptr(reason),
			})
		if err != nil {
			if errors.Is(err, models.ErrStaleOrder) {
				// Заказ успел уйти из статуса: гонка проиграна безвредно.
				s.log.Debug("sweep lost the race", sl.Order(order.OrderID))
				continue
			}
			s.log.Error("failed to expire order", sl.Order(order.OrderID), sl.Err(err))
			continue
		}
		count++
		metrics.OrderTransitions.WithLabelValues(string(status), string(models.StatusExpired),
			string(models.TriggerTimeout)).Inc()
		metrics.ExpiredOrders.WithLabelValues(string(status)).Inc()

		if err := s.cache.Invalidate(cache.OrderKey(updated.OrderID)); err != nil {
			s.log.Warn("failed to invalidate cached order", sl.Order(updated.OrderID), sl.Err(err))
		}

		if err := s.notifier.Publish(rabbitmq.RoutingOrderEvent, notify.OrderEventMessage{
			TgID:      updated.TgID,
			OrderID:   updated.OrderID,
			Status:    models.StatusExpired,
			Note:      reason,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			s.log.Error("failed to publish expiration notice", sl.Order(updated.OrderID), sl.Err(err))
		}
	}
	return count, nil
}
