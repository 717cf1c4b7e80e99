// Package confirmation применяет платёжные подтверждения к заказам ровно
// один раз. Вебхуки провайдера доставляются хотя бы однажды, поэтому повтор
// уже применённого подтверждения обязан быть безвредным.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/cache"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/metrics"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
	"github.com/khabusiness/rusbridge-orders/internal/paymentprovider/robokassa"
)

// Repository определяет методы хранилища для обработки подтверждений.
type Repository interface {
	GetOrderByInvID(ctx context.Context, invID int64) (*models.Order, error)
	TransitionOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
		trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error)
}

// Verifier проверяет подпись result-вебхука.
type Verifier interface {
	VerifyResultSignature(params map[string]string) bool
}

// Notifier публикует уведомления для чат-бота.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// OrderCache сбрасывает кэшированные снимки заказов, чтобы чтение статуса
// не отдавало состояние до оплаты.
type OrderCache interface {
	Invalidate(key string) error
}

// Result итог применения подтверждения.
type Result struct {
	OrderID string
	InvID   int64
	Applied bool // false при идемпотентном повторе
}

type Service struct {
	repo     Repository
	verifier Verifier
	notifier Notifier
	cache    OrderCache
	limits   config.Limits
	log      *slog.Logger
}

func New(repo Repository, verifier Verifier, notifier Notifier, orderCache OrderCache,
	limits config.Limits, log *slog.Logger) *Service {
	return &Service{repo: repo, verifier: verifier, notifier: notifier, cache: orderCache,
		limits: limits, log: log}
}

// Apply применяет подтверждение оплаты. Порядок проверок: подпись, наличие
// заказа, сумма, статус. Повтор по уже оплаченному заказу отвечает успехом
// без изменения состояния, чтобы провайдер перестал ретраить доставку.
func (s *Service) Apply(ctx context.Context, event robokassa.ResultEvent) (*Result, error) {
	const op = "confirmation.Apply"

	if !s.verifier.VerifyResultSignature(event.Params) {
		s.log.Warn("payment webhook signature mismatch", slog.Int64("inv_id", event.InvID))
		metrics.PaymentWebhooks.WithLabelValues("signature_invalid").Inc()
		return nil, models.ErrSignatureInvalid
	}

	order, err := s.repo.GetOrderByInvID(ctx, event.InvID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			metrics.PaymentWebhooks.WithLabelValues("order_not_found").Inc()
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if event.OutSum != robokassa.FormatOutSum(order.PriceRub) {
		s.log.Warn("payment webhook amount mismatch", sl.Order(order.OrderID),
			slog.String("claimed", event.OutSum), slog.Int("expected_rub", order.PriceRub))
		metrics.PaymentWebhooks.WithLabelValues("amount_mismatch").Inc()
		return nil, models.ErrAmountMismatch
	}

	retries := s.limits.TransitionRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for range retries {
		switch {
		case order.Status == models.StatusWaitPay:
			// Штатный путь ниже.
		case paidOrLater(order.Status):
			// Повторная доставка: заказ уже оплачен, отвечаем успехом.
			s.log.Info("payment webhook replay ignored", sl.Order(order.OrderID),
				slog.String("status", string(order.Status)))
			metrics.PaymentWebhooks.WithLabelValues("replay").Inc()
			return &Result{OrderID: order.OrderID, InvID: event.InvID, Applied: false}, nil
		default:
			// Оплата больше невозможна: заказ отменён, истёк или ошибочен.
			metrics.PaymentWebhooks.WithLabelValues("stale").Inc()
			return nil, fmt.Errorf("%w: payment for %s order", models.ErrStaleOrder, order.Status)
		}

		now := time.Now().UTC()
		updated, err := s.repo.TransitionOrder(ctx, order.OrderID, models.StatusWaitPay, models.StatusPaid,
			models.TriggerWebhook, "payment confirmed", models.OrderUpdate{
				PaidAt:        &now,
				PaymentOutSum: &event.OutSum,
			})
		if err != nil {
			if errors.Is(err, models.ErrStaleOrder) {
				// Проиграли гонку: перечитываем и решаем заново.
				lastErr = err
				order, err = s.repo.GetOrderByInvID(ctx, event.InvID)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				continue
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		metrics.OrderTransitions.WithLabelValues(string(models.StatusWaitPay), string(models.StatusPaid),
			string(models.TriggerWebhook)).Inc()
		metrics.PaymentWebhooks.WithLabelValues("applied").Inc()
		s.invalidateOrder(updated.OrderID)

		s.autoAdvance(ctx, updated)
		s.notifyClient(updated)

		s.log.Info("payment confirmed", sl.Order(order.OrderID), slog.Int64("inv_id", event.InvID))
		return &Result{OrderID: order.OrderID, InvID: event.InvID, Applied: true}, nil
	}
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

// autoAdvance переводит оплаченный заказ в ожидание ссылки на сервис.
// Проигрыш гонки здесь безвреден: заказ уже продвинул кто-то другой.
func (s *Service) autoAdvance(ctx context.Context, order *models.Order) {
	_, err := s.repo.TransitionOrder(ctx, order.OrderID, models.StatusPaid, models.StatusWaitServiceLink,
		models.TriggerSystem, "auto-advance after payment", models.OrderUpdate{})
	if err != nil {
		if errors.Is(err, models.ErrStaleOrder) {
			return
		}
		s.log.Error("failed to auto-advance paid order", sl.Order(order.OrderID), sl.Err(err))
		return
	}
	metrics.OrderTransitions.WithLabelValues(string(models.StatusPaid), string(models.StatusWaitServiceLink),
		string(models.TriggerSystem)).Inc()
	s.invalidateOrder(order.OrderID)
}

func (s *Service) invalidateOrder(orderID string) {
	if err := s.cache.Invalidate(cache.OrderKey(orderID)); err != nil {
		s.log.Warn("failed to invalidate cached order", sl.Order(orderID), sl.Err(err))
	}
}

func (s *Service) notifyClient(order *models.Order) {
	err := s.notifier.Publish(rabbitmq.RoutingOrderEvent, notify.OrderEventMessage{
		TgID:      order.TgID,
		OrderID:   order.OrderID,
		Status:    models.StatusWaitServiceLink,
		Note:      "payment confirmed",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("failed to publish payment notification", sl.Order(order.OrderID), sl.Err(err))
	}
}

// paidOrLater сообщает, прошёл ли заказ точку оплаты.
func paidOrLater(status models.OrderStatus) bool {
	switch status {
	case models.StatusPaid, models.StatusWaitServiceLink, models.StatusReadyForOperator,
		models.StatusInProgress, models.StatusDone, models.StatusWaitClientConfirm,
		models.StatusClientConfirmed:
		return true
	}
	return false
}
