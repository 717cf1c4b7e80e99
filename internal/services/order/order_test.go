package order

import (
	"context"
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
	"github.com/khabusiness/rusbridge-orders/internal/paymentprovider/robokassa"
	"github.com/khabusiness/rusbridge-orders/internal/services/admission"
	"github.com/khabusiness/rusbridge-orders/internal/storage/memory"
)

type fakeCooldowner struct{}

func (fakeCooldowner) AcquireCooldown(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

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

func (fakeCache) Get(string, any) (bool, error)        { return false, nil }
func (fakeCache) Set(string, any, time.Duration) error { return nil }
func (fakeCache) Invalidate(string) error              { return nil }

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func testCatalog() *catalog.Catalog {
	return catalog.FromProducts([]catalog.Product{
		{
			Code:           "spotify_3m",
			Name:           "Spotify Premium, 3 месяца",
			Provider:       "spotify",
			PriceRub:       1990,
			DurationDays:   90,
			AllowedDomains: []string{"spotify.com"},
		},
		{
			Code:          "topup",
			Name:          "Пополнение баланса",
			Provider:      "openrouter",
			PriceRub:      1000,
			VariablePrice: true,
		},
	})
}

func newTestService(t *testing.T) (*Service, *memory.Storage, *fakeNotifier) {
	t.Helper()

	store := memory.New()
	limits := config.Limits{
		DailyOrderLimit:   5,
		OperatorCooldown:  10 * time.Minute,
		TransitionRetries: 3,
	}
	gate := admission.New(store, fakeCooldowner{}, limits, newNoopLogger())
	payments, err := robokassa.New(config.Robokassa{
		MerchantLogin: "rusbridge",
		Password1:     "pass1",
		Password2:     "pass2",
		HashAlgo:      "md5",
	})
	require.NoError(t, err)
	notifier := &fakeNotifier{}

	service := New(store, gate, payments, notifier, fakeCache{}, testCatalog(), limits, newNoopLogger())
	return service, store, notifier
}

func TestCreate(t *testing.T) {
	service, _, notifier := newTestService(t)
	ctx := context.Background()

	result, err := service.Create(ctx, models.DummyOrder{
		TgID: 42, Username: "client", ProductCode: "spotify_3m",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitPay, result.Order.Status)
	assert.Equal(t, 1990, result.Order.PriceRub)
	assert.False(t, result.Resumed)
	assert.NotEmpty(t, result.Payment.PayURL)
	assert.Equal(t, "1990.00", result.Payment.OutSum)
	assert.Contains(t, notifier.messages, "operator_alert")
}

func TestCreate_VariablePrice(t *testing.T) {
	service, _, _ := newTestService(t)

	result, err := service.Create(context.Background(), models.DummyOrder{
		TgID: 42, ProductCode: "topup", AmountRub: 3500,
	})
	require.NoError(t, err)
	assert.Equal(t, 3500, result.Order.PriceRub)
}

func TestCreate_UnknownProduct(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Create(context.Background(), models.DummyOrder{
		TgID: 42, ProductCode: "nope",
	})
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestCreate_ResumesOpenOrder(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)

	// Повторное создание возвращает тот же заказ со свежей ссылкой.
	second, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.NotEmpty(t, second.Payment.PayURL)
}

func TestApplyUserAction_Cancel(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)

	updated, err := service.ApplyUserAction(ctx, created.Order.OrderID, models.DummyUserAction{
		TgID: 42, Action: "cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)

	// После отмены можно открыть новый заказ.
	_, err = service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	assert.NoError(t, err)
}

func TestApplyUserAction_Unauthorized(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)

	_, err = service.ApplyUserAction(ctx, created.Order.OrderID, models.DummyUserAction{
		TgID: 43, Action: "cancel",
	})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestApplyUserAction_ServiceLink(t *testing.T) {
	service, store, notifier := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)
	orderID := created.Order.OrderID

	// Доводим заказ до WAIT_SERVICE_LINK, как это сделал бы вебхук.
	_, err = store.TransitionOrder(ctx, orderID, models.StatusWaitPay, models.StatusPaid,
		models.TriggerWebhook, "", models.OrderUpdate{})
	require.NoError(t, err)
	_, err = store.TransitionOrder(ctx, orderID, models.StatusPaid, models.StatusWaitServiceLink,
		models.TriggerSystem, "", models.OrderUpdate{})
	require.NoError(t, err)

	t.Run("disallowed domain rejected", func(t *testing.T) {
		_, err := service.ApplyUserAction(ctx, orderID, models.DummyUserAction{
			TgID: 42, Action: "service_link", Link: "https://evil.example/profile",
		})
		assert.ErrorIs(t, err, models.ErrDisallowedDomain)
	})

	t.Run("valid link advances order", func(t *testing.T) {
		updated, err := service.ApplyUserAction(ctx, orderID, models.DummyUserAction{
			TgID: 42, Action: "service_link", Link: "https://open.spotify.com/user/abc",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusReadyForOperator, updated.Status)
		assert.Equal(t, "https://open.spotify.com/user/abc", updated.ServiceLink)
		assert.NotNil(t, updated.ServiceLinkAt)
		assert.Contains(t, notifier.messages, "operator_alert")
	})
}

func TestApplyUserAction_ConfirmActivatesSubscription(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)
	orderID := created.Order.OrderID

	for _, step := range []struct {
		from, to models.OrderStatus
	}{
		{models.StatusWaitPay, models.StatusPaid},
		{models.StatusPaid, models.StatusWaitServiceLink},
		{models.StatusWaitServiceLink, models.StatusReadyForOperator},
		{models.StatusReadyForOperator, models.StatusInProgress},
		{models.StatusInProgress, models.StatusDone},
		{models.StatusDone, models.StatusWaitClientConfirm},
	} {
		_, err = store.TransitionOrder(ctx, orderID, step.from, step.to,
			models.TriggerSystem, "", models.OrderUpdate{})
		require.NoError(t, err)
	}

	updated, err := service.ApplyUserAction(ctx, orderID, models.DummyUserAction{
		TgID: 42, Action: "confirm",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClientConfirmed, updated.Status)
	assert.NotNil(t, updated.ConfirmedAt)

	subs, err := store.ListSubscriptionsDue(ctx, time.Now().UTC(), time.Now().UTC().AddDate(0, 0, 91))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, orderID, subs[0].LastOrderID)
}

func TestApplyUserAction_ReportIssueReturnsToOperator(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)
	orderID := created.Order.OrderID

	for _, step := range []struct {
		from, to models.OrderStatus
	}{
		{models.StatusWaitPay, models.StatusPaid},
		{models.StatusPaid, models.StatusWaitServiceLink},
		{models.StatusWaitServiceLink, models.StatusReadyForOperator},
		{models.StatusReadyForOperator, models.StatusInProgress},
		{models.StatusInProgress, models.StatusDone},
		{models.StatusDone, models.StatusWaitClientConfirm},
	} {
		_, err = store.TransitionOrder(ctx, orderID, step.from, step.to,
			models.TriggerSystem, "", models.OrderUpdate{})
		require.NoError(t, err)
	}

	updated, err := service.ApplyUserAction(ctx, orderID, models.DummyUserAction{
		TgID: 42, Action: "report_issue",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForOperator, updated.Status)
}

func TestGetStatusAndHistory(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DummyOrder{TgID: 42, ProductCode: "spotify_3m"})
	require.NoError(t, err)

	got, err := service.GetStatus(ctx, created.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, created.Order.OrderID, got.OrderID)

	_, err = service.GetStatus(ctx, "RB-20000101000000-ZZZZ")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	events, err := service.History(ctx, created.Order.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.StatusNew, events[0].ToStatus)
	assert.Equal(t, models.StatusWaitPay, events[1].ToStatus)
}

func TestRequestEscalation(t *testing.T) {
	service, _, notifier := newTestService(t)

	err := service.RequestEscalation(context.Background(), 42, "client", "нужна помощь")
	require.NoError(t, err)
	assert.Contains(t, notifier.messages, "operator_alert")
}
