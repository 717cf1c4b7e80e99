// Package admission содержит входной контроль: кто и когда может открыть
// новый заказ или позвать оператора.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/cache"
	"github.com/khabusiness/rusbridge-orders/internal/config"
	"github.com/khabusiness/rusbridge-orders/internal/metrics"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Repository определяет методы хранилища, нужные для проверок допуска.
type Repository interface {
	// UpsertUser регистрирует пользователя при первом контакте.
	UpsertUser(ctx context.Context, tgID int64, username, sourceKey string) error
	// IsUserBlocked сообщает, заблокирован ли пользователь.
	IsUserBlocked(ctx context.Context, tgID int64) (bool, error)
	// FindActiveOrder возвращает нетерминальный заказ пользователя.
	FindActiveOrder(ctx context.Context, tgID int64) (*models.Order, error)
	// IncrementDailyCount атомарно проверяет и увеличивает суточный счётчик.
	IncrementDailyCount(ctx context.Context, tgID int64, day time.Time, limit int) (int, error)
}

// Cooldowner атомарный кулдаун вызова оператора.
type Cooldowner interface {
	AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Service struct {
	repo     Repository
	cooldown Cooldowner
	limits   config.Limits
	log      *slog.Logger
}

func New(repo Repository, cooldown Cooldowner, limits config.Limits, log *slog.Logger) *Service {
	return &Service{repo: repo, cooldown: cooldown, limits: limits, log: log}
}

// CheckCreate решает, можно ли пользователю открыть новый заказ. Порядок
// проверок: блокировка, открытый заказ, суточный лимит. Счётчик лимита
// увеличивается атомарно вместе с проверкой, поэтому две конкурентные заявки
// на последний слот не пройдут обе. Проверка открытого заказа здесь
// опережающая: уникальный индекс хранилища закрывает гонку окончательно.
func (s *Service) CheckCreate(ctx context.Context, tgID int64, username, sourceKey string) error {
	const op = "admission.CheckCreate"

	if err := s.repo.UpsertUser(ctx, tgID, username, sourceKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	blocked, err := s.repo.IsUserBlocked(ctx, tgID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if blocked {
		metrics.AdmissionRejections.WithLabelValues("user_blocked").Inc()
		return models.ErrUserBlocked
	}

	if _, err := s.repo.FindActiveOrder(ctx, tgID); err == nil {
		metrics.AdmissionRejections.WithLabelValues("open_order").Inc()
		return models.ErrOpenOrderExists
	} else if !errors.Is(err, models.ErrOrderNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	if s.limits.IsBypass(tgID) {
		s.log.Debug("daily limit bypassed", slog.Int64("tg_id", tgID))
		return nil
	}

	if _, err := s.repo.IncrementDailyCount(ctx, tgID, time.Now().UTC(), s.limits.DailyOrderLimit); err != nil {
		if errors.Is(err, models.ErrDailyLimitExceeded) {
			metrics.AdmissionRejections.WithLabelValues("daily_limit").Inc()
			return models.ErrDailyLimitExceeded
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CheckEscalation решает, можно ли пользователю позвать оператора. Кулдаун
// ставится атомарно (SET NX): выигрывает ровно один из конкурентных запросов.
func (s *Service) CheckEscalation(ctx context.Context, tgID int64) error {
	const op = "admission.CheckEscalation"

	blocked, err := s.repo.IsUserBlocked(ctx, tgID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if blocked {
		return models.ErrUserBlocked
	}

	ok, err := s.cooldown.AcquireCooldown(ctx, cache.CooldownKey(tgID), s.limits.OperatorCooldown)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.log.Info("escalation rejected by cooldown", slog.Int64("tg_id", tgID))
		metrics.AdmissionRejections.WithLabelValues("cooldown").Inc()
		return models.ErrCooldownActive
	}
	return nil
}
