package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
	"github.com/khabusiness/rusbridge-orders/internal/storage/memory"
)

type fakeNotifier struct {
	mu        sync.Mutex
	failures  int
	reminders []notify.ReminderMessage
}

func (n *fakeNotifier) Publish(_ string, message any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("broker unavailable")
	}
	n.reminders = append(n.reminders, message.(notify.ReminderMessage))
	return nil
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func addSubscription(t *testing.T, store *memory.Storage, tgID int64, endInDays int) {
	t.Helper()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	require.NoError(t, store.UpsertSubscription(context.Background(), models.Subscription{
		TgID:        tgID,
		ProductCode: "spotify_3m",
		StartDate:   today.AddDate(0, 0, -90),
		EndDate:     today.AddDate(0, 0, endInDays),
		LastOrderID: "RB-20260101120000-AAAA",
	}))
}

func TestSweep(t *testing.T) {
	store := memory.New()
	notifier := &fakeNotifier{}
	limits := config.Limits{ReminderInterval: 6 * time.Hour}
	service := New(store, notifier, limits, newNoopLogger())
	ctx := context.Background()

	addSubscription(t, store, 1, 3)  // попадает в трёхдневное окно
	addSubscription(t, store, 2, 0)  // кончается сегодня
	addSubscription(t, store, 3, 10) // ещё рано

	count, err := service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	daysByUser := map[int64]int{}
	for _, r := range notifier.reminders {
		daysByUser[r.TgID] = r.DaysLeft
	}
	assert.Equal(t, map[int64]int{1: 3, 2: 0}, daysByUser)

	// Повторный обход не шлёт дубликатов.
	count, err = service.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweep_FinalReminderAfterEarlyOne(t *testing.T) {
	store := memory.New()
	notifier := &fakeNotifier{}
	service := New(store, notifier, config.Limits{ReminderInterval: time.Hour}, newNoopLogger())
	ctx := context.Background()

	addSubscription(t, store, 1, 0)

	// Сначала уходит финальное напоминание.
	count, err := service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, notifier.reminders[0].DaysLeft)

	count, err = service.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweep_PublishFailureRetriesNextRun(t *testing.T) {
	store := memory.New()
	notifier := &fakeNotifier{failures: 1}
	service := New(store, notifier, config.Limits{ReminderInterval: time.Hour}, newNoopLogger())
	ctx := context.Background()

	addSubscription(t, store, 1, 3)

	// Первая попытка падает на публикации, флаг не выставляется.
	count, err := service.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Вторая попытка доставляет напоминание.
	count, err = service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
