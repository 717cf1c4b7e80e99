package adminops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khabusiness/rusbridge-orders/internal/catalog"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/storage/memory"
)

const (
	adminID    = int64(1001)
	otherAdmin = int64(1002)
	clientID   = int64(42)
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Publish(routingKey string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, routingKey)
	return nil
}

type fakeCache struct{}

func (fakeCache) Invalidate(string) error { return nil }

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func testCatalog() *catalog.Catalog {
	return catalog.FromProducts([]catalog.Product{
		{
			Code:        "spotify_3m",
			Name:        "Spotify Premium, 3 месяца",
			PriceRub:    1990,
			Instruction: "Инструкция по активации подписки.",
		},
		{Code: "bare", Name: "Без инструкции", PriceRub: 100},
	})
}

func newTestService(t *testing.T) (*Service, *memory.Storage, *fakeNotifier) {
	t.Helper()

	store := memory.New()
	notifier := &fakeNotifier{}
	admins := config.Admin{AdminIDs: []int64{adminID, otherAdmin}}
	service := New(store, notifier, fakeCache{}, testCatalog(), admins, newNoopLogger())
	return service, store, notifier
}

// createReadyOrder создаёт заказ и доводит его до READY_FOR_OPERATOR.
func createReadyOrder(t *testing.T, store *memory.Storage, orderID string, productCode string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.CreateOrder(ctx, &models.Order{
		OrderID:     orderID,
		TgID:        clientID,
		ProductCode: productCode,
		PriceRub:    1990,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	from := models.StatusNew
	for _, to := range []models.OrderStatus{
		models.StatusWaitPay, models.StatusPaid,
		models.StatusWaitServiceLink, models.StatusReadyForOperator,
	} {
		_, err = store.TransitionOrder(ctx, orderID, from, to, models.TriggerSystem, "", models.OrderUpdate{})
		require.NoError(t, err)
		from = to
	}
}

func TestApplyOrderAction_Unauthorized(t *testing.T) {
	service, store, _ := newTestService(t)
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	_, err := service.ApplyOrderAction(context.Background(), 555, "stranger",
		"RB-20260101120000-AAAA", ActionClaim, "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestApplyOrderAction_Claim(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	updated, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	require.NotNil(t, updated.OperatorID)
	assert.Equal(t, adminID, *updated.OperatorID)
	assert.NotNil(t, updated.ClaimedAt)

	// Повторный claim другим оператором отклоняется: заказ уже занят.
	_, err = service.ApplyOrderAction(ctx, otherAdmin, "other", "RB-20260101120000-AAAA", ActionClaim, "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	actions, err := store.ListAdminActions(ctx, "RB-20260101120000-AAAA")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "CLAIM", actions[0].Action)
}

func TestApplyOrderAction_DuplicateClaimTap(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	first, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, first.Status)

	// Дубль нажатия того же оператора не ошибка: заказ уже взят им же.
	second, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, second.Status)
	require.NotNil(t, second.OperatorID)
	assert.Equal(t, adminID, *second.OperatorID)

	events, err := store.ListOrderEvents(ctx, "RB-20260101120000-AAAA")
	require.NoError(t, err)
	var claims int
	for _, event := range events {
		if event.ToStatus == models.StatusInProgress {
			claims++
		}
	}
	assert.Equal(t, 1, claims, "duplicate tap must not produce a second transition")
}

func TestApplyOrderAction_DuplicateDoneTap(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionDone, "")
	require.NoError(t, err)

	second, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionDone, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitClientConfirm, second.Status)
}

// raceStorage имитирует проигранный CAS: первый переход выполняет "соперник"
// с заданным оператором, а вызывающему возвращается ошибка конкурентного
// изменения.
type raceStorage struct {
	*memory.Storage
	rivalID int64
	lost    bool
}

func (s *raceStorage) TransitionOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	if s.lost {
		return s.Storage.TransitionOrder(ctx, orderID, from, to, trigger, note, upd)
	}
	s.lost = true
	rival := upd
	rival.OperatorID = &s.rivalID
	if _, err := s.Storage.TransitionOrder(ctx, orderID, from, to, trigger, note, rival); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: expected %s, got %s", models.ErrStaleOrder, from, to)
}

func TestApplyOrderAction_ClaimLosesRace(t *testing.T) {
	ctx := context.Background()

	t.Run("to own duplicate tap", func(t *testing.T) {
		store := memory.New()
		race := &raceStorage{Storage: store, rivalID: adminID}
		service := New(race, &fakeNotifier{}, fakeCache{}, testCatalog(),
			config.Admin{AdminIDs: []int64{adminID, otherAdmin}}, newNoopLogger())
		createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

		updated, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, updated.Status)
	})

	t.Run("to another operator", func(t *testing.T) {
		store := memory.New()
		race := &raceStorage{Storage: store, rivalID: otherAdmin}
		service := New(race, &fakeNotifier{}, fakeCache{}, testCatalog(),
			config.Admin{AdminIDs: []int64{adminID, otherAdmin}}, newNoopLogger())
		createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

		_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestApplyOrderAction_DoneByClaimant(t *testing.T) {
	service, store, notifier := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
	require.NoError(t, err)

	// Чужой оператор не может завершить взятый заказ.
	_, err = service.ApplyOrderAction(ctx, otherAdmin, "other", "RB-20260101120000-AAAA", ActionDone, "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	updated, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionDone, "")
	require.NoError(t, err)
	// done сразу продвигается к подтверждению клиентом.
	assert.Equal(t, models.StatusWaitClientConfirm, updated.Status)
	assert.NotNil(t, updated.DoneAt)
	assert.Contains(t, notifier.messages, "order_event")
}

func TestApplyOrderAction_DoneAutoClaims(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	// done по невзятому заказу сначала закрепляет его за оператором.
	updated, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionDone, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitClientConfirm, updated.Status)
	require.NotNil(t, updated.OperatorID)
	assert.Equal(t, adminID, *updated.OperatorID)

	events, err := store.ListOrderEvents(ctx, "RB-20260101120000-AAAA")
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, models.StatusWaitClientConfirm, last.ToStatus)
}

func TestApplyOrderAction_Error(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionClaim, "")
	require.NoError(t, err)

	updated, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA",
		ActionError, "client account is not active")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, updated.Status)
	assert.Equal(t, "OPERATOR_ERROR", updated.ErrorCode)
	assert.Equal(t, "client account is not active", updated.ErrorText)
}

func TestApplyOrderAction_ForceClose(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	t.Run("requires reason", func(t *testing.T) {
		_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionForceClose, "")
		assert.Error(t, err)
	})

	t.Run("closes from any non-terminal status", func(t *testing.T) {
		updated, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA",
			ActionForceClose, "duplicate order")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, updated.Status)
		assert.Equal(t, "FORCE_CLOSED", updated.ErrorCode)
	})

	t.Run("terminal order cannot be closed again", func(t *testing.T) {
		_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA",
			ActionForceClose, "again")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	actions, err := store.ListAdminActions(ctx, "RB-20260101120000-AAAA")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "FORCE_CLOSE", actions[0].Action)
	assert.Equal(t, "duplicate order", actions[0].Note)
}

func TestApplyOrderAction_Template(t *testing.T) {
	service, store, notifier := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")
	createReadyOrder(t, store, "RB-20260101120000-BBBB", "bare")

	_, err := service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-AAAA", ActionTemplate, "")
	require.NoError(t, err)
	assert.Contains(t, notifier.messages, "order_event")

	_, err = service.ApplyOrderAction(ctx, adminID, "operator", "RB-20260101120000-BBBB", ActionTemplate, "")
	assert.Error(t, err, "product without instruction template")
}

func TestSetBlocked(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, service.SetBlocked(ctx, 555, "stranger", clientID, true, "spam"),
		models.ErrUnauthorized)

	require.NoError(t, service.SetBlocked(ctx, adminID, "operator", clientID, true, "spam"))
	blocked, err := store.IsUserBlocked(ctx, clientID)
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, service.SetBlocked(ctx, adminID, "operator", clientID, false, ""))
	blocked, err = store.IsUserBlocked(ctx, clientID)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestSendMessage(t *testing.T) {
	service, store, notifier := newTestService(t)
	ctx := context.Background()
	createReadyOrder(t, store, "RB-20260101120000-AAAA", "spotify_3m")

	t.Run("by order id", func(t *testing.T) {
		err := service.SendMessage(ctx, adminID, "operator", "RB-20260101120000-AAAA", "скоро будет готово")
		require.NoError(t, err)
		assert.Contains(t, notifier.messages, "order_event")
	})

	t.Run("by tg id", func(t *testing.T) {
		err := service.SendMessage(ctx, adminID, "operator", "42", "привет")
		require.NoError(t, err)
	})

	t.Run("bad target", func(t *testing.T) {
		err := service.SendMessage(ctx, adminID, "operator", "not-a-target", "x")
		assert.Error(t, err)
	})

	t.Run("unknown order", func(t *testing.T) {
		err := service.SendMessage(ctx, adminID, "operator", "RB-20000101000000-ZZZZ", "x")
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
	})
}
