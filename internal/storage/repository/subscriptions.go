package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// UpsertSubscription создаёт или продлевает подписку пользователя на продукт.
// Продление сбрасывает флаги отправленных напоминаний.
func (s *Storage) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	const op = "storage.UpsertSubscription"

	query := `INSERT INTO subscriptions (tg_id, product_code, start_date, end_date, last_order_id,
				  remind_3_sent, remind_0_sent)
			  VALUES ($1, $2, $3, $4, $5, false, false)
			  ON CONFLICT (tg_id, product_code) DO UPDATE SET
			      start_date = EXCLUDED.start_date,
			      end_date = EXCLUDED.end_date,
			      last_order_id = EXCLUDED.last_order_id,
			      remind_3_sent = false,
			      remind_0_sent = false`
	_, err := s.DB.ExecContext(ctx, query,
		sub.TgID, sub.ProductCode, sub.StartDate, sub.EndDate, sub.LastOrderID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListSubscriptionsDue возвращает подписки, истекающие в интервале [from, to]
// включительно. Читается планировщиком напоминаний.
func (s *Storage) ListSubscriptionsDue(ctx context.Context, from, to time.Time) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptionsDue"

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, tg_id, product_code, start_date, end_date, last_order_id, remind_3_sent, remind_0_sent
		 FROM subscriptions WHERE end_date BETWEEN $1 AND $2`, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.TgID, &sub.ProductCode, &sub.StartDate, &sub.EndDate,
			&sub.LastOrderID, &sub.Remind3Sent, &sub.Remind0Sent); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkReminderSent помечает напоминание отправленным: за 3 дня (daysLeft > 0)
// либо в день окончания (daysLeft <= 0).
func (s *Storage) MarkReminderSent(ctx context.Context, subscriptionID int64, daysLeft int) error {
	const op = "storage.MarkReminderSent"

	column := "remind_3_sent"
	if daysLeft <= 0 {
		column = "remind_0_sent"
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE subscriptions SET `+column+` = true WHERE id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
