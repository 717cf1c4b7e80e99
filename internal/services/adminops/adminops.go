// Package adminops применяет действия операторов и администраторов:
// взятие заказа, завершение, ошибка, принудительное закрытие, блокировка
// пользователей и отправка сообщений. Каждое действие пишется в журнал
// admin_actions независимо от того, изменило ли оно статус заказа.
package adminops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/cache"
	"github.com/khabusiness/rusbridge-orders/internal/catalog"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/lib/orderid"
	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/metrics"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
)

// AdminAction вид привилегированного действия.
const (
	ActionClaim      = "claim"
	ActionProgress   = "progress"
	ActionDone       = "done"
	ActionError      = "error"
	ActionForceClose = "force_close"
	ActionTemplate   = "template"
)

// Repository определяет методы хранилища для привилегированных действий.
type Repository interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	TransitionOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
		trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error)
	ForceCloseOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
		trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error)
	SetUserBlocked(ctx context.Context, tgID int64, blocked bool, reason string, by int64) error
	LogAdminAction(ctx context.Context, action models.AdminAction) error
}

// Notifier публикует уведомления для чат-бота.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// OrderCache сбрасывает кэшированные снимки заказов после операторских
// переходов.
type OrderCache interface {
	Invalidate(key string) error
}

type Service struct {
	repo     Repository
	notifier Notifier
	cache    OrderCache
	catalog  *catalog.Catalog
	admins   config.Admin
	log      *slog.Logger
}

func New(repo Repository, notifier Notifier, orderCache OrderCache, cat *catalog.Catalog,
	admins config.Admin, log *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, cache: orderCache, catalog: cat,
		admins: admins, log: log}
}

// ApplyOrderAction применяет действие оператора к заказу. Для done и error
// требуется совпадение оператора, взявшего заказ, с автором действия.
func (s *Service) ApplyOrderAction(ctx context.Context, actorID int64, actorName, orderID, action, payload string) (*models.Order, error) {
	const op = "adminops.ApplyOrderAction"

	if !s.admins.IsAdmin(actorID) {
		return nil, models.ErrUnauthorized
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var updated *models.Order
	switch action {
	case ActionClaim, ActionProgress:
		updated, err = s.claim(ctx, order, actorID, actorName)
	case ActionDone:
		updated, err = s.done(ctx, order, actorID, actorName)
	case ActionError:
		updated, err = s.markError(ctx, order, actorID, payload)
	case ActionForceClose:
		updated, err = s.forceClose(ctx, order, payload)
	case ActionTemplate:
		err = s.sendTemplate(order)
		updated = order
	default:
		return nil, fmt.Errorf("%s: unknown action %q", op, action)
	}
	if err != nil {
		return nil, err
	}
	if action != ActionTemplate {
		s.invalidateOrder(orderID)
	}

	logErr := s.repo.LogAdminAction(ctx, models.AdminAction{
		OrderID:   orderID,
		AdminID:   actorID,
		AdminName: actorName,
		Action:    strings.ToUpper(action),
		Note:      payload,
		CreatedAt: time.Now().UTC(),
	})
	if logErr != nil {
		s.log.Error("failed to log admin action", sl.Order(orderID), sl.Err(logErr))
	}
	return updated, nil
}

// claim переводит заказ в работу и закрепляет его за оператором. Повторное
// нажатие того же оператора идемпотентно: заказ возвращается как есть.
func (s *Service) claim(ctx context.Context, order *models.Order, actorID int64, actorName string) (*models.Order, error) {
	if order.OperatorID != nil && *order.OperatorID != actorID {
		return nil, fmt.Errorf("%w: order is claimed by another operator", models.ErrUnauthorized)
	}
	if order.Status == models.StatusInProgress && order.OperatorID != nil {
		return order, nil
	}
	now := time.Now().UTC()
	updated, err := s.repo.TransitionOrder(ctx, order.OrderID, models.StatusReadyForOperator,
		models.StatusInProgress, models.TriggerAdmin, "operator claimed", models.OrderUpdate{
			OperatorID:   &actorID,
			OperatorName: &actorName,
			ClaimedAt:    &now,
		})
	if err != nil {
		if errors.Is(err, models.ErrStaleOrder) {
			return s.afterStale(ctx, order.OrderID, actorID, models.StatusInProgress)
		}
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(models.StatusReadyForOperator),
		string(models.StatusInProgress), string(models.TriggerAdmin)).Inc()
	return updated, nil
}

// done завершает заказ и сразу продвигает его к подтверждению клиентом.
// Заказ, ещё не взятый в работу, закрепляется за оператором автоматически.
func (s *Service) done(ctx context.Context, order *models.Order, actorID int64, actorName string) (*models.Order, error) {
	if order.Status == models.StatusReadyForOperator {
		claimed, err := s.claim(ctx, order, actorID, actorName)
		if err != nil {
			return nil, err
		}
		order = claimed
	}
	if order.OperatorID == nil || *order.OperatorID != actorID {
		return nil, fmt.Errorf("%w: order is claimed by another operator", models.ErrUnauthorized)
	}

	now := time.Now().UTC()
	updated, err := s.repo.TransitionOrder(ctx, order.OrderID, models.StatusInProgress, models.StatusDone,
		models.TriggerAdmin, "operator finished", models.OrderUpdate{DoneAt: &now})
	if err != nil {
		if errors.Is(err, models.ErrStaleOrder) {
			return s.afterStale(ctx, order.OrderID, actorID,
				models.StatusDone, models.StatusWaitClientConfirm, models.StatusClientConfirmed)
		}
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(models.StatusInProgress), string(models.StatusDone),
		string(models.TriggerAdmin)).Inc()

	advanced, err := s.repo.TransitionOrder(ctx, updated.OrderID, models.StatusDone,
		models.StatusWaitClientConfirm, models.TriggerSystem, "awaiting client confirmation", models.OrderUpdate{})
	if err != nil {
		if errors.Is(err, models.ErrStaleOrder) {
			return updated, nil
		}
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(models.StatusDone), string(models.StatusWaitClientConfirm),
		string(models.TriggerSystem)).Inc()

	s.notifyClient(advanced, "please confirm the service is active")
	return advanced, nil
}

// afterStale перечитывает заказ после проигранного CAS. Дубль нажатия, после
// которого заказ уже в одном из целевых статусов у того же оператора, считается
// обработанным и возвращает актуальный заказ.
func (s *Service) afterStale(ctx context.Context, orderID string, actorID int64, handled ...models.OrderStatus) (*models.Order, error) {
	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.OperatorID != nil && *current.OperatorID != actorID {
		return nil, fmt.Errorf("%w: order is claimed by another operator", models.ErrUnauthorized)
	}
	for _, status := range handled {
		if current.Status == status {
			return current, nil
		}
	}
	return nil, fmt.Errorf("%w: order is %s", models.ErrStaleOrder, current.Status)
}

func (s *Service) markError(ctx context.Context, order *models.Order, actorID int64, payload string) (*models.Order, error) {
	if order.OperatorID != nil && *order.OperatorID != actorID {
		return nil, fmt.Errorf("%w: order is claimed by another operator", models.ErrUnauthorized)
	}
	text := payload
	if text == "" {
		text = "operator reported a failure"
	}
	updated, err := s.repo.TransitionOrder(ctx, order.OrderID, models.StatusInProgress, models.StatusError,
		models.TriggerAdmin, "operator reported error", models.OrderUpdate{
			ErrorCode: models.Ptr("OPERATOR_ERROR"),
			ErrorText: &text,
		})
	if err != nil {
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(models.StatusInProgress), string(models.StatusError),
		string(models.TriggerAdmin)).Inc()

	s.notifyClient(updated, "operator is looking into the problem")
	return updated, nil
}

// forceClose закрывает заказ из любого нетерминального статуса. Причина
// обязательна: без неё действие отклоняется.
func (s *Service) forceClose(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("adminops.forceClose: reason is required")
	}
	target := models.StatusCancelled
	if strings.HasPrefix(strings.ToLower(reason), "error:") {
		target = models.StatusError
	}
	updated, err := s.repo.ForceCloseOrder(ctx, order.OrderID, order.Status, target,
		models.TriggerAdmin, reason, models.OrderUpdate{
			ErrorCode: models.Ptr("FORCE_CLOSED"),
			ErrorText: &reason,
		})
	if err != nil {
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(order.Status), string(target),
		string(models.TriggerAdmin)).Inc()

	s.notifyClient(updated, reason)
	return updated, nil
}

// sendTemplate отправляет клиенту инструкцию по продукту заказа.
func (s *Service) sendTemplate(order *models.Order) error {
	product, err := s.catalog.Get(order.ProductCode)
	if err != nil {
		return err
	}
	if product.Instruction == "" {
		return fmt.Errorf("adminops.sendTemplate: product %s has no instruction template", product.Code)
	}
	return s.notifier.Publish(rabbitmq.RoutingOrderEvent, notify.DirectMessage{
		TgID:      order.TgID,
		Text:      product.Instruction,
		OrderID:   order.OrderID,
		CreatedAt: time.Now().UTC(),
	})
}

// SetBlocked блокирует или разблокирует пользователя. Заказы пользователя
// при этом не трогаются.
func (s *Service) SetBlocked(ctx context.Context, actorID int64, actorName string, tgID int64, blocked bool, reason string) error {
	if !s.admins.IsAdmin(actorID) {
		return models.ErrUnauthorized
	}
	if err := s.repo.SetUserBlocked(ctx, tgID, blocked, reason, actorID); err != nil {
		return err
	}

	action := "BLOCK"
	if !blocked {
		action = "UNBLOCK"
	}
	err := s.repo.LogAdminAction(ctx, models.AdminAction{
		AdminID:   actorID,
		AdminName: actorName,
		Action:    action,
		Note:      fmt.Sprintf("tg_id=%d %s", tgID, reason),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("failed to log admin action", sl.Err(err))
	}
	return nil
}

// SendMessage отправляет пользователю произвольное сообщение. Адресат
// задаётся либо идентификатором, либо номером заказа. Повторная доставка
// одного и того же сообщения допустима.
func (s *Service) SendMessage(ctx context.Context, actorID int64, actorName, target, text string) error {
	const op = "adminops.SendMessage"

	if !s.admins.IsAdmin(actorID) {
		return models.ErrUnauthorized
	}

	tgID, orderRef, err := s.resolveTarget(ctx, target)
	if err != nil {
		return err
	}

	err = s.notifier.Publish(rabbitmq.RoutingOrderEvent, notify.DirectMessage{
		TgID:      tgID,
		Text:      text,
		OrderID:   orderRef,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	logErr := s.repo.LogAdminAction(ctx, models.AdminAction{
		OrderID:   orderRef,
		AdminID:   actorID,
		AdminName: actorName,
		Action:    "MESSAGE",
		Note:      text,
		CreatedAt: time.Now().UTC(),
	})
	if logErr != nil {
		s.log.Error("failed to log admin action", sl.Err(logErr))
	}
	return nil
}

// resolveTarget распознаёт адресата: номер заказа или числовой tg_id.
func (s *Service) resolveTarget(ctx context.Context, target string) (int64, string, error) {
	target = strings.TrimSpace(target)
	if orderid.IsOrderID(target) {
		order, err := s.repo.GetOrder(ctx, target)
		if err != nil {
			return 0, "", err
		}
		return order.TgID, order.OrderID, nil
	}

	var tgID int64
	if _, err := fmt.Sscanf(target, "%d", &tgID); err != nil || tgID <= 0 {
		return 0, "", fmt.Errorf("adminops.resolveTarget: bad target %q", target)
	}
	return tgID, "", nil
}

func (s *Service) invalidateOrder(orderID string) {
	if err := s.cache.Invalidate(cache.OrderKey(orderID)); err != nil {
		s.log.Warn("failed to invalidate cached order", sl.Order(orderID), sl.Err(err))
	}
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
