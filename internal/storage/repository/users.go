package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// UpsertUser создаёт пользователя при первом контакте либо обновляет
// имя, источник и отметку последнего визита.
func (s *Storage) UpsertUser(ctx context.Context, tgID int64, username, sourceKey string) error {
	const op = "storage.UpsertUser"

	now := time.Now().UTC()
	query := `INSERT INTO users (tg_id, username, first_seen_at, last_seen_at, source_key)
			  VALUES ($1, $2, $3, $3, NULLIF($4, ''))
			  ON CONFLICT (tg_id) DO UPDATE SET
			      username = EXCLUDED.username,
			      last_seen_at = EXCLUDED.last_seen_at,
			      source_key = COALESCE(EXCLUDED.source_key, users.source_key)`
	_, err := s.DB.ExecContext(ctx, query, tgID, username, now, sourceKey)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUser возвращает пользователя по tg_id.
func (s *Storage) GetUser(ctx context.Context, tgID int64) (*models.User, error) {
	const op = "storage.GetUser"

	query := `SELECT tg_id, username, first_seen_at, last_seen_at, source_key, blocked,
				  block_reason, blocked_by, daily_count, daily_count_at
			  FROM users WHERE tg_id = $1`
	row := s.DB.QueryRowContext(ctx, query, tgID)

	var (
		user        models.User
		sourceKey   sql.NullString
		blockReason sql.NullString
		blockedBy   sql.NullInt64
		dailyAt     sql.NullTime
	)
	err := row.Scan(&user.TgID, &user.Username, &user.FirstSeenAt, &user.LastSeenAt, &sourceKey,
		&user.Blocked, &blockReason, &blockedBy, &user.DailyCount, &dailyAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.SourceKey = sourceKey.String
	user.BlockReason = blockReason.String
	if blockedBy.Valid {
		user.BlockedBy = &blockedBy.Int64
	}
	if dailyAt.Valid {
		user.DailyCountAt = &dailyAt.Time
	}
	return &user, nil
}

// IsUserBlocked сообщает, заблокирован ли пользователь. Отсутствие записи
// означает "не заблокирован".
func (s *Storage) IsUserBlocked(ctx context.Context, tgID int64) (bool, error) {
	const op = "storage.IsUserBlocked"

	var blocked bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT blocked FROM users WHERE tg_id = $1`, tgID).Scan(&blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return blocked, nil
}

// SetUserBlocked устанавливает или снимает блокировку пользователя.
func (s *Storage) SetUserBlocked(ctx context.Context, tgID int64, blocked bool, reason string, by int64) error {
	const op = "storage.SetUserBlocked"

	now := time.Now().UTC()
	query := `INSERT INTO users (tg_id, username, first_seen_at, last_seen_at, blocked, block_reason, blocked_by)
			  VALUES ($1, '', $2, $2, $3, NULLIF($4, ''), $5)
			  ON CONFLICT (tg_id) DO UPDATE SET
			      blocked = EXCLUDED.blocked,
			      block_reason = EXCLUDED.block_reason,
			      blocked_by = EXCLUDED.blocked_by,
			      last_seen_at = EXCLUDED.last_seen_at`
	_, err := s.DB.ExecContext(ctx, query, tgID, now, blocked, reason, by)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IncrementDailyCount атомарно проверяет и увеличивает суточный счётчик
// заказов пользователя. Счётчик сбрасывается при смене суток UTC. Если лимит
// уже выбран, ни одна конкурентная попытка не пройдёт: проверка и инкремент —
// одно UPDATE-выражение.
func (s *Storage) IncrementDailyCount(ctx context.Context, tgID int64, day time.Time, limit int) (int, error) {
	const op = "storage.IncrementDailyCount"

	day = day.UTC().Truncate(24 * time.Hour)
	query := `UPDATE users SET
				  daily_count = CASE WHEN daily_count_at = $2 THEN daily_count + 1 ELSE 1 END,
				  daily_count_at = $2
			  WHERE tg_id = $1
			    AND (daily_count_at IS DISTINCT FROM $2 OR daily_count < $3)
			  RETURNING daily_count`
	var count int
	err := s.DB.QueryRowContext(ctx, query, tgID, day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Либо пользователя нет, либо лимит выбран.
		var exists bool
		lookupErr := s.DB.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE tg_id = $1)`, tgID).Scan(&exists)
		if lookupErr != nil {
			return 0, fmt.Errorf("%s: %w", op, lookupErr)
		}
		if exists {
			return 0, models.ErrDailyLimitExceeded
		}
		return 0, fmt.Errorf("%s: user %d not found", op, tgID)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
