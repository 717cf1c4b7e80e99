// Package memory содержит хранилище заказов в памяти с теми же атомарными
// гарантиями, что и у постоянного хранилища. Используется в тестах сервисов.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/statemachine"
)

// Storage хранит всё состояние под одним мьютексом. Compare-and-set переходов
// и проверка "один активный заказ на пользователя" выполняются под ним же,
// поэтому семантика ошибок совпадает с postgres-реализацией.
type Storage struct {
	mu            sync.Mutex
	orders        map[string]*models.Order
	users         map[int64]*models.User
	subscriptions map[string]*models.Subscription
	events        []models.OrderEvent
	adminActions  []models.AdminAction
	nextInvID     int64
	nextSubID     int64
}

func New() *Storage {
	return &Storage{
		orders:        make(map[string]*models.Order),
		users:         make(map[int64]*models.User),
		subscriptions: make(map[string]*models.Subscription),
	}
}

func (s *Storage) CreateOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orders {
		if existing.TgID == order.TgID && !existing.Status.IsTerminal() {
			return nil, models.ErrOpenOrderExists
		}
	}
	if _, ok := s.orders[order.OrderID]; ok {
		return nil, models.ErrOpenOrderExists
	}

	s.nextInvID++
	created := *order
	created.PaymentInvID = s.nextInvID
	created.Status = models.StatusNew
	created.UpdatedAt = order.CreatedAt
	created.StatusChangedAt = order.CreatedAt
	s.orders[created.OrderID] = &created

	s.events = append(s.events, models.OrderEvent{
		ID:        uuid.New().String(),
		OrderID:   created.OrderID,
		ToStatus:  models.StatusNew,
		Trigger:   models.TriggerUser,
		Note:      "order created",
		CreatedAt: created.CreatedAt,
	})

	result := created
	return &result, nil
}

func (s *Storage) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *Storage) GetOrderByInvID(_ context.Context, invID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.PaymentInvID == invID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (s *Storage) FindActiveOrder(_ context.Context, tgID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.TgID == tgID && !order.Status.IsTerminal() {
			copied := *order
			return &copied, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (s *Storage) ListOrdersInStatusBefore(_ context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Order
	for _, order := range s.orders {
		if order.Status == status && !order.StatusChangedAt.After(cutoff) {
			copied := *order
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *Storage) ListActiveOrders(_ context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Order
	for _, order := range s.orders {
		if !order.Status.IsTerminal() {
			copied := *order
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *Storage) TransitionOrder(_ context.Context, orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	if err := statemachine.Ensure(from, to); err != nil {
		return nil, err
	}
	return s.transitionUnchecked(orderID, from, to, trigger, note, upd)
}

func (s *Storage) ForceCloseOrder(_ context.Context, orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	if !statemachine.CanForceClose(from, to) {
		return nil, fmt.Errorf("%w: force close %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return s.transitionUnchecked(orderID, from, to, trigger, note, upd)
}

func (s *Storage) transitionUnchecked(orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: expected %s, got %s", models.ErrStaleOrder, from, order.Status)
	}

	now := time.Now().UTC()
	order.Status = to
	order.UpdatedAt = now
	order.StatusChangedAt = now
	if upd.ServiceLink != nil {
		order.ServiceLink = *upd.ServiceLink
	}
	if upd.ServiceLinkAt != nil {
		order.ServiceLinkAt = upd.ServiceLinkAt
	}
	if upd.OperatorID != nil {
		order.OperatorID = upd.OperatorID
	}
	if upd.OperatorName != nil {
		order.OperatorName = *upd.OperatorName
	}
	if upd.ClaimedAt != nil {
		order.ClaimedAt = upd.ClaimedAt
	}
	if upd.PaidAt != nil {
		order.PaidAt = upd.PaidAt
	}
	if upd.DoneAt != nil {
		order.DoneAt = upd.DoneAt
	}
	if upd.ConfirmedAt != nil {
		order.ConfirmedAt = upd.ConfirmedAt
	}
	if upd.ErrorCode != nil {
		order.ErrorCode = *upd.ErrorCode
	}
	if upd.ErrorText != nil {
		order.ErrorText = *upd.ErrorText
	}
	if upd.PaymentOutSum != nil {
		order.PaymentOutSum = *upd.PaymentOutSum
	}

	s.events = append(s.events, models.OrderEvent{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Trigger:    trigger,
		Note:       note,
		CreatedAt:  now,
	})

	copied := *order
	return &copied, nil
}

func (s *Storage) ListOrderEvents(_ context.Context, orderID string) ([]*models.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.OrderEvent
	for i := range s.events {
		if s.events[i].OrderID == orderID {
			copied := s.events[i]
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *Storage) LogAdminAction(_ context.Context, action models.AdminAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	s.adminActions = append(s.adminActions, action)
	return nil
}

func (s *Storage) ListAdminActions(_ context.Context, orderID string) ([]*models.AdminAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.AdminAction
	for i := range s.adminActions {
		if s.adminActions[i].OrderID == orderID {
			copied := s.adminActions[i]
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *Storage) UpsertUser(_ context.Context, tgID int64, username, sourceKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user, ok := s.users[tgID]
	if !ok {
		s.users[tgID] = &models.User{
			TgID:        tgID,
			Username:    username,
			FirstSeenAt: now,
			LastSeenAt:  now,
			SourceKey:   sourceKey,
		}
		return nil
	}
	user.Username = username
	user.LastSeenAt = now
	if sourceKey != "" {
		user.SourceKey = sourceKey
	}
	return nil
}

func (s *Storage) GetUser(_ context.Context, tgID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[tgID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *Storage) IsUserBlocked(_ context.Context, tgID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[tgID]
	if !ok {
		return false, nil
	}
	return user.Blocked, nil
}

func (s *Storage) SetUserBlocked(_ context.Context, tgID int64, blocked bool, reason string, by int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user, ok := s.users[tgID]
	if !ok {
		user = &models.User{TgID: tgID, FirstSeenAt: now, LastSeenAt: now}
		s.users[tgID] = user
	}
	user.Blocked = blocked
	user.BlockReason = reason
	if blocked {
		user.BlockedBy = &by
	} else {
		user.BlockedBy = nil
	}
	return nil
}

func (s *Storage) IncrementDailyCount(_ context.Context, tgID int64, day time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[tgID]
	if !ok {
		return 0, fmt.Errorf("memory.IncrementDailyCount: user %d not found", tgID)
	}

	day = day.UTC().Truncate(24 * time.Hour)
	if user.DailyCountAt == nil || !user.DailyCountAt.Equal(day) {
		user.DailyCount = 1
		user.DailyCountAt = &day
		return user.DailyCount, nil
	}
	if user.DailyCount >= limit {
		return 0, models.ErrDailyLimitExceeded
	}
	user.DailyCount++
	return user.DailyCount, nil
}

func subscriptionKey(tgID int64, productCode string) string {
	return fmt.Sprintf("%d/%s", tgID, productCode)
}

func (s *Storage) UpsertSubscription(_ context.Context, sub models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey(sub.TgID, sub.ProductCode)
	existing, ok := s.subscriptions[key]
	if !ok {
		s.nextSubID++
		sub.ID = s.nextSubID
		sub.Remind3Sent = false
		sub.Remind0Sent = false
		s.subscriptions[key] = &sub
		return nil
	}
	existing.StartDate = sub.StartDate
	existing.EndDate = sub.EndDate
	existing.LastOrderID = sub.LastOrderID
	existing.Remind3Sent = false
	existing.Remind0Sent = false
	return nil
}

func (s *Storage) ListSubscriptionsDue(_ context.Context, from, to time.Time) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Subscription
	for _, sub := range s.subscriptions {
		if !sub.EndDate.Before(from) && !sub.EndDate.After(to) {
			copied := *sub
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *Storage) MarkReminderSent(_ context.Context, subscriptionID int64, daysLeft int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.ID == subscriptionID {
			if daysLeft <= 0 {
				sub.Remind0Sent = true
			} else {
				sub.Remind3Sent = true
			}
			return nil
		}
	}
	return models.ErrOrderNotFound
}
