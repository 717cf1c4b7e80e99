// Package reminder рассылает напоминания об окончании подписок: за три дня
// и в день окончания. Каждое напоминание отправляется не больше одного раза,
// флаги отправки живут на записи подписки.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/notify"
)

const remindBeforeDays = 3

// Repository определяет методы хранилища подписок.
type Repository interface {
	ListSubscriptionsDue(ctx context.Context, from, to time.Time) ([]*models.Subscription, error)
	MarkReminderSent(ctx context.Context, subscriptionID int64, daysLeft int) error
}

// Notifier публикует уведомления для чат-бота.
type Notifier interface {
	Publish(routingKey string, message any) error
}

type Service struct {
	repo     Repository
	notifier Notifier
	limits   config.Limits
	log      *slog.Logger
}

func New(repo Repository, notifier Notifier, limits config.Limits, log *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, limits: limits, log: log}
}

// Run запускает периодическую рассылку до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.sweepLogged(ctx)

	ticker := time.NewTicker(s.limits.ReminderInterval)
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
		s.log.Error("reminder sweep failed", sl.Err(err))
		return
	}
	if count > 0 {
		s.log.Info("reminders sent", slog.Int("count", count))
	}
}

// Sweep отправляет все причитающиеся напоминания и возвращает их количество.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	subs, err := s.repo.ListSubscriptionsDue(ctx, today, today.AddDate(0, 0, remindBeforeDays))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, sub := range subs {
		daysLeft := int(sub.EndDate.Sub(today).Hours() / 24)
		if !s.shouldRemind(sub, daysLeft) {
			continue
		}

		err := s.notifier.Publish(rabbitmq.RoutingReminder, notify.ReminderMessage{
			TgID:        sub.TgID,
			ProductCode: sub.ProductCode,
			EndDate:     sub.EndDate,
			DaysLeft:    daysLeft,
		})
		if err != nil {
			s.log.Error("failed to publish reminder", slog.Int64("tg_id", sub.TgID), sl.Err(err))
			continue
		}
		if err := s.repo.MarkReminderSent(ctx, sub.ID, daysLeft); err != nil {
			s.log.Error("failed to mark reminder sent", slog.Int64("subscription_id", sub.ID), sl.Err(err))
			continue
		}
		count++
	}
	return count, nil
}

// shouldRemind решает, причитается ли подписке напоминание. В последний день
// уходит финальное напоминание, даже если трёхдневное не отправлялось.
func (s *Service) shouldRemind(sub *models.Subscription, daysLeft int) bool {
	if daysLeft <= 0 {
		return !sub.Remind0Sent
	}
	return !sub.Remind3Sent
}
