package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// appendEvent пишет запись журнала переходов внутри транзакции перехода.
func appendEvent(ctx context.Context, tx *sql.Tx, event models.OrderEvent) error {
	query := `INSERT INTO order_events (id, order_id, from_status, to_status, trigger_kind, note, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(ctx, query,
		event.ID, event.OrderID, string(event.FromStatus), string(event.ToStatus),
		string(event.Trigger), event.Note, event.CreatedAt)
	return err
}

// ListOrderEvents возвращает журнал переходов заказа в порядке записи.
func (s *Storage) ListOrderEvents(ctx context.Context, orderID string) ([]*models.OrderEvent, error) {
	const op = "storage.ListOrderEvents"

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, order_id, from_status, to_status, trigger_kind, note, created_at
		 FROM order_events WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.OrderEvent
	for rows.Next() {
		var event models.OrderEvent
		var from, to, trigger string
		if err := rows.Scan(&event.ID, &event.OrderID, &from, &to, &trigger, &event.Note, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		event.FromStatus = models.OrderStatus(from)
		event.ToStatus = models.OrderStatus(to)
		event.Trigger = models.TriggerKind(trigger)
		result = append(result, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// LogAdminAction пишет запись о привилегированном действии. Журнал только
// дописывается, существующие записи не меняются.
func (s *Storage) LogAdminAction(ctx context.Context, action models.AdminAction) error {
	const op = "storage.LogAdminAction"

	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	query := `INSERT INTO admin_actions (id, order_id, admin_id, admin_username, action, note, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.DB.ExecContext(ctx, query,
		action.ID, action.OrderID, action.AdminID, action.AdminName, action.Action,
		action.Note, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListAdminActions возвращает действия по заказу в порядке записи.
func (s *Storage) ListAdminActions(ctx context.Context, orderID string) ([]*models.AdminAction, error) {
	const op = "storage.ListAdminActions"

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, order_id, admin_id, admin_username, action, note, created_at
		 FROM admin_actions WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.AdminAction
	for rows.Next() {
		var action models.AdminAction
		if err := rows.Scan(&action.ID, &action.OrderID, &action.AdminID, &action.AdminName,
			&action.Action, &action.Note, &action.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
