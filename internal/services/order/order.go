// Package order содержит бизнес-логику жизненного цикла заказа со стороны
// пользователя: создание и возобновление, действия над собственным заказом,
// чтение статуса и отладочная выгрузка.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/cache"
	"github.com/khabusiness/rusbridge-orders/internal/catalog"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/lib/linkcheck"
	"github.com/khabusiness/rusbridge-orders/internal/lib/orderid"
	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/metrics"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
	"github.com/khabusiness/rusbridge-orders/internal/paymentprovider/robokassa"
)

// Repository определяет методы хранилища заказов.
type Repository interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	FindActiveOrder(ctx context.Context, tgID int64) (*models.Order, error)
	ListActiveOrders(ctx context.Context) ([]*models.Order, error)
	TransitionOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
		trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error)
	ListOrderEvents(ctx context.Context, orderID string) ([]*models.OrderEvent, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
}

// Admission входной контроль создания заказов.
type Admission interface {
	CheckCreate(ctx context.Context, tgID int64, username, sourceKey string) error
	CheckEscalation(ctx context.Context, tgID int64) error
}

// PaymentLinker строит платёжную ссылку для заказа.
type PaymentLinker interface {
	BuildPaymentLink(orderID string, invID int64, priceRub int, description string) robokassa.PaymentLink
}

// Notifier публикует уведомления для чат-бота.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// CacheStore кэш снимков заказов.
type CacheStore interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// OrderWithPayment заказ вместе с платёжной ссылкой.
type OrderWithPayment struct {
	Order   *models.Order
	Payment robokassa.PaymentLink
	Resumed bool // true, если возвращён уже существующий неоплаченный заказ
}

const orderCacheTTL = 30 * time.Second

type Service struct {
	repo      Repository
	admission Admission
	payments  PaymentLinker
	notifier  Notifier
	cache     CacheStore
	catalog   *catalog.Catalog
	limits    config.Limits
	log       *slog.Logger
}

func New(repo Repository, admission Admission, payments PaymentLinker, notifier Notifier,
	cacheStore CacheStore, cat *catalog.Catalog, limits config.Limits, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		admission: admission,
		payments:  payments,
		notifier:  notifier,
		cache:     cacheStore,
		catalog:   cat,
		limits:    limits,
		log:       log,
	}
}

// Create открывает новый заказ: проверяет допуск, создаёт запись в NEW,
// строит платёжную ссылку и переводит заказ в WAIT_PAY. Если у пользователя
// уже есть неоплаченный заказ, возвращается он же с новой ссылкой, чтобы
// повторное нажатие кнопки не плодило заказов.
func (s *Service) Create(ctx context.Context, req models.DummyOrder) (*OrderWithPayment, error) {
	const op = "order.Create"

	product, err := s.catalog.Get(req.ProductCode)
	if err != nil {
		return nil, err
	}
	price := product.PriceRub
	if product.VariablePrice && req.AmountRub > 0 {
		price = req.AmountRub
	}

	if err := s.admission.CheckCreate(ctx, req.TgID, req.Username, req.SourceKey); err != nil {
		if errors.Is(err, models.ErrOpenOrderExists) {
			return s.resume(ctx, req.TgID)
		}
		return nil, err
	}

	now := time.Now().UTC()
	order := &models.Order{
		OrderID:     orderid.New(now),
		TgID:        req.TgID,
		Username:    req.Username,
		SourceKey:   req.SourceKey,
		ProductCode: product.Code,
		ProductName: product.Name,
		PriceRub:    price,
		CreatedAt:   now,
	}
	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, models.ErrOpenOrderExists) {
			// Проиграли гонку двух создателей: возвращаем заказ победителя.
			return s.resume(ctx, req.TgID)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link := s.payments.BuildPaymentLink(created.OrderID, created.PaymentInvID, created.PriceRub, created.ProductName)
	updated, err := s.repo.TransitionOrder(ctx, created.OrderID, models.StatusNew, models.StatusWaitPay,
		models.TriggerUser, "payment link issued", models.OrderUpdate{
			PaymentOutSum: models.Ptr(link.OutSum),
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.OrderTransitions.WithLabelValues(string(models.StatusNew), string(models.StatusWaitPay), string(models.TriggerUser)).Inc()

	s.notifyOperators(notify.OperatorAlertMessage{
		Kind:      "new_order",
		TgID:      updated.TgID,
		Username:  updated.Username,
		OrderID:   updated.OrderID,
		Text:      updated.ProductName,
		CreatedAt: time.Now().UTC(),
	})
	s.cacheOrder(updated)

	s.log.Info("order created", sl.Order(updated.OrderID), slog.Int64("tg_id", updated.TgID),
		slog.String("product", updated.ProductCode))
	return &OrderWithPayment{Order: updated, Payment: link}, nil
}

// resume возвращает существующий активный заказ пользователя. Для заказа в
// WAIT_PAY ссылка на оплату строится заново.
func (s *Service) resume(ctx context.Context, tgID int64) (*OrderWithPayment, error) {
	existing, err := s.repo.FindActiveOrder(ctx, tgID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			// Заказ успел закрыться между проверкой и чтением.
			return nil, models.ErrOpenOrderExists
		}
		return nil, fmt.Errorf("order.resume: %w", err)
	}
	result := &OrderWithPayment{Order: existing, Resumed: true}
	if existing.Status == models.StatusWaitPay {
		result.Payment = s.payments.BuildPaymentLink(existing.OrderID, existing.PaymentInvID,
			existing.PriceRub, existing.ProductName)
	}
	return result, nil
}

// ApplyUserAction применяет действие пользователя к его заказу. Конфликт
// compare-and-set повторяется ограниченное число раз с перечитыванием заказа.
func (s *Service) ApplyUserAction(ctx context.Context, orderID string, req models.DummyUserAction) (*models.Order, error) {
	const op = "order.ApplyUserAction"

	retries := s.limits.TransitionRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for range retries {
		current, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.TgID != req.TgID {
			return nil, models.ErrUnauthorized
		}

		updated, err := s.applyUserActionOnce(ctx, current, req)
		if err != nil {
			if errors.Is(err, models.ErrStaleOrder) {
				lastErr = err
				continue
			}
			return nil, err
		}
		s.cache.Invalidate(cache.OrderKey(orderID))
		return updated, nil
	}
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

func (s *Service) applyUserActionOnce(ctx context.Context, current *models.Order, req models.DummyUserAction) (*models.Order, error) {
	now := time.Now().UTC()

	switch models.UserAction(req.Action) {
	case models.ActionCancel:
		if current.Status != models.StatusNew && current.Status != models.StatusWaitPay {
			return nil, fmt.Errorf("%w: cancel from %s", models.ErrInvalidTransition, current.Status)
		}
		updated, err := s.transition(ctx, current, models.StatusCancelled, models.TriggerUser, "user cancelled",
			models.OrderUpdate{ErrorCode: models.Ptr("USER_CANCELLED")})
		if err != nil {
			return nil, err
		}
		s.notifyClient(updated, "")
		return updated, nil

	case models.ActionConfirm:
		updated, err := s.transition(ctx, current, models.StatusClientConfirmed, models.TriggerUser,
			"client confirmed", models.OrderUpdate{ConfirmedAt: &now})
		if err != nil {
			return nil, err
		}
		if err := s.activateSubscription(ctx, updated); err != nil {
			s.log.Error("failed to activate subscription", sl.Order(updated.OrderID), sl.Err(err))
		}
		s.notifyClient(updated, "")
		return updated, nil

	case models.ActionReportIssue:
		updated, err := s.transition(ctx, current, models.StatusReadyForOperator, models.TriggerUser,
			"client reported issue", models.OrderUpdate{})
		if err != nil {
			return nil, err
		}
		s.notifyOperators(notify.OperatorAlertMessage{
			Kind:      "issue_reported",
			TgID:      updated.TgID,
			Username:  updated.Username,
			OrderID:   updated.OrderID,
			CreatedAt: now,
		})
		return updated, nil

	case models.ActionServiceLink:
		product, err := s.catalog.Get(current.ProductCode)
		if err != nil {
			return nil, err
		}
		normalized, err := linkcheck.Validate(req.Link, product.AllowedDomains)
		if err != nil {
			return nil, err
		}
		updated, err := s.transition(ctx, current, models.StatusReadyForOperator, models.TriggerUser,
			"service link received", models.OrderUpdate{
				ServiceLink:   &normalized,
				ServiceLinkAt: &now,
			})
		if err != nil {
			return nil, err
		}
		s.notifyOperators(notify.OperatorAlertMessage{
			Kind:      "link_received",
			TgID:      updated.TgID,
			Username:  updated.Username,
			OrderID:   updated.OrderID,
			Text:      normalized,
			CreatedAt: now,
		})
		return updated, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", models.ErrInvalidTransition, req.Action)
}

func (s *Service) transition(ctx context.Context, current *models.Order, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	updated, err := s.repo.TransitionOrder(ctx, current.OrderID, current.Status, to, trigger, note, upd)
	if err != nil {
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(current.Status), string(to), string(trigger)).Inc()
	return updated, nil
}

// RequestEscalation обрабатывает явный вызов оператора.
func (s *Service) RequestEscalation(ctx context.Context, tgID int64, username, text string) error {
	if err := s.admission.CheckEscalation(ctx, tgID); err != nil {
		return err
	}
	s.notifyOperators(notify.OperatorAlertMessage{
		Kind:      "escalation",
		TgID:      tgID,
		Username:  username,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// GetStatus возвращает заказ по идентификатору, через кэш.
func (s *Service) GetStatus(ctx context.Context, orderID string) (*models.Order, error) {
	var cached models.Order
	if found, err := s.cache.Get(cache.OrderKey(orderID), &cached); err == nil && found {
		return &cached, nil
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(order)
	return order, nil
}

// GetActiveForUser возвращает активный заказ пользователя.
func (s *Service) GetActiveForUser(ctx context.Context, tgID int64) (*models.Order, error) {
	return s.repo.FindActiveOrder(ctx, tgID)
}

// History возвращает журнал переходов заказа.
func (s *Service) History(ctx context.Context, orderID string) ([]*models.OrderEvent, error) {
	return s.repo.ListOrderEvents(ctx, orderID)
}

// Snapshot возвращает все активные заказы. Используется отладочной выгрузкой.
func (s *Service) Snapshot(ctx context.Context) ([]*models.Order, error) {
	return s.repo.ListActiveOrders(ctx)
}

// activateSubscription создаёт или продлевает подписку после подтверждения
// клиентом. Продукты без срока действия подписку не создают.
func (s *Service) activateSubscription(ctx context.Context, order *models.Order) error {
	product, err := s.catalog.Get(order.ProductCode)
	if err != nil {
		return err
	}
	if product.DurationDays <= 0 {
		return nil
	}
	start := time.Now().UTC().Truncate(24 * time.Hour)
	return s.repo.UpsertSubscription(ctx, models.Subscription{
		TgID:        order.TgID,
		ProductCode: order.ProductCode,
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, product.DurationDays),
		LastOrderID: order.OrderID,
	})
}

func (s *Service) notifyClient(order *models.Order, note string) {
	err := s.notifier.Publish(rabbitmq.RoutingOrderEvent, notify.OrderEventMessage{
		TgID:      order.TgID,
		OrderID:   order.OrderID,
		Status:    order.Status,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("failed to publish order event", sl.Order(order.OrderID), sl.Err(err))
	}
}

func (s *Service) notifyOperators(msg notify.OperatorAlertMessage) {
	if err := s.notifier.Publish(rabbitmq.RoutingOperatorAlert, msg); err != nil {
		s.log.Error("failed to publish operator alert", sl.Err(err))
	}
}

func (s *Service) cacheOrder(order *models.Order) {
	if err := s.cache.Set(cache.OrderKey(order.OrderID), order, orderCacheTTL); err != nil {
		s.log.Warn("failed to cache order", sl.Order(order.OrderID), sl.Err(err))
	}
}
