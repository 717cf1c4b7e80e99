package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/statemachine"
)

// orderColumns единый список колонок заказа для выборок.
const orderColumns = `order_id, payment_inv_id, tg_id, username, source_key, product_code,
	product_name, price_rub, status, created_at, updated_at, status_changed_at, paid_at,
	service_link, service_link_at, operator_id, operator_name, claimed_at, done_at,
	confirmed_at, error_code, error_text, payment_out_sum`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o             models.Order
		status        string
		username      sql.NullString
		sourceKey     sql.NullString
		paidAt        sql.NullTime
		serviceLink   sql.NullString
		serviceLinkAt sql.NullTime
		operatorID    sql.NullInt64
		operatorName  sql.NullString
		claimedAt     sql.NullTime
		doneAt        sql.NullTime
		confirmedAt   sql.NullTime
		errorCode     sql.NullString
		errorText     sql.NullString
		paymentOutSum sql.NullString
	)
	err := row.Scan(&o.OrderID, &o.PaymentInvID, &o.TgID, &username, &sourceKey, &o.ProductCode,
		&o.ProductName, &o.PriceRub, &status, &o.CreatedAt, &o.UpdatedAt, &o.StatusChangedAt, &paidAt,
		&serviceLink, &serviceLinkAt, &operatorID, &operatorName, &claimedAt, &doneAt,
		&confirmedAt, &errorCode, &errorText, &paymentOutSum)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.Username = username.String
	o.SourceKey = sourceKey.String
	o.ServiceLink = serviceLink.String
	o.OperatorName = operatorName.String
	o.ErrorCode = errorCode.String
	o.ErrorText = errorText.String
	o.PaymentOutSum = paymentOutSum.String
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if serviceLinkAt.Valid {
		o.ServiceLinkAt = &serviceLinkAt.Time
	}
	if operatorID.Valid {
		o.OperatorID = &operatorID.Int64
	}
	if claimedAt.Valid {
		o.ClaimedAt = &claimedAt.Time
	}
	if doneAt.Valid {
		o.DoneAt = &doneAt.Time
	}
	if confirmedAt.Valid {
		o.ConfirmedAt = &confirmedAt.Time
	}
	return &o, nil
}

// CreateOrder вставляет новый заказ в статусе NEW и пишет запись в журнал
// событий. Частичный уникальный индекс по активным заказам пользователя
// превращает гонку двух создателей в models.ErrOpenOrderExists для проигравшего.
func (s *Storage) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	const op = "storage.CreateOrder"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO orders (order_id, tg_id, username, source_key, product_code,
				  product_name, price_rub, status, created_at, updated_at, status_changed_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9)
			  RETURNING payment_inv_id`
	err = tx.QueryRowContext(ctx, query,
		order.OrderID, order.TgID, order.Username, order.SourceKey, order.ProductCode,
		order.ProductName, order.PriceRub, string(models.StatusNew), order.CreatedAt,
	).Scan(&order.PaymentInvID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrOpenOrderExists
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	event := models.OrderEvent{
		ID:        uuid.New().String(),
		OrderID:   order.OrderID,
		ToStatus:  models.StatusNew,
		Trigger:   models.TriggerUser,
		Note:      "order created",
		CreatedAt: order.CreatedAt,
	}
	if err := appendEvent(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created := *order
	created.Status = models.StatusNew
	created.UpdatedAt = order.CreatedAt
	created.StatusChangedAt = order.CreatedAt
	return &created, nil
}

// GetOrder возвращает заказ по его публичному идентификатору.
func (s *Storage) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	const op = "storage.GetOrder"

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}

// GetOrderByInvID возвращает заказ по номеру счёта платёжного провайдера.
func (s *Storage) GetOrderByInvID(ctx context.Context, invID int64) (*models.Order, error) {
	const op = "storage.GetOrderByInvID"

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_inv_id = $1`, invID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}

// FindActiveOrder возвращает активный (нетерминальный) заказ пользователя
// либо models.ErrOrderNotFound. Инвариант "не более одного активного заказа"
// гарантирует не больше одной строки.
func (s *Storage) FindActiveOrder(ctx context.Context, tgID int64) (*models.Order, error) {
	const op = "storage.FindActiveOrder"

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE tg_id = $1 AND status = ANY($2)
		 ORDER BY created_at DESC
		 LIMIT 1`, tgID, activeStatusArray())
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}

// ListOrdersInStatusBefore возвращает заказы в статусе status, вошедшие в него
// не позже cutoff. Используется планировщиком таймаутов.
func (s *Storage) ListOrdersInStatusBefore(ctx context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error) {
	const op = "storage.ListOrdersInStatusBefore"

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND status_changed_at <= $2`, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListActiveOrders возвращает все нетерминальные заказы. Используется
// отладочной выгрузкой.
func (s *Storage) ListActiveOrders(ctx context.Context) ([]*models.Order, error) {
	const op = "storage.ListActiveOrders"

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ANY($1) ORDER BY created_at`,
		activeStatusArray())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// TransitionOrder атомарно переводит заказ из статуса from в to: проверяет
// переход по таблице, выполняет compare-and-set по текущему статусу и в той же
// транзакции пишет запись журнала событий. Проигравший гонку получает
// models.ErrStaleOrder и должен перечитать заказ.
func (s *Storage) TransitionOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	const op = "storage.TransitionOrder"

	if err := statemachine.Ensure(from, to); err != nil {
		return nil, err
	}
	return s.transitionUnchecked(ctx, op, orderID, from, to, trigger, note, upd)
}

// ForceCloseOrder переводит заказ из произвольного нетерминального статуса
// в CANCELLED или ERROR, минуя обычную таблицу переходов.
func (s *Storage) ForceCloseOrder(ctx context.Context, orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	const op = "storage.ForceCloseOrder"

	if !statemachine.CanForceClose(from, to) {
		return nil, fmt.Errorf("%w: force close %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return s.transitionUnchecked(ctx, op, orderID, from, to, trigger, note, upd)
}

func (s *Storage) transitionUnchecked(ctx context.Context, op, orderID string, from, to models.OrderStatus,
	trigger models.TriggerKind, note string, upd models.OrderUpdate) (*models.Order, error) {
	now := time.Now().UTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE orders SET
				  status = $3,
				  updated_at = $4,
				  status_changed_at = $4,
				  service_link = COALESCE($5, service_link),
				  service_link_at = COALESCE($6, service_link_at),
				  operator_id = COALESCE($7, operator_id),
				  operator_name = COALESCE($8, operator_name),
				  claimed_at = COALESCE($9, claimed_at),
				  paid_at = COALESCE($10, paid_at),
				  done_at = COALESCE($11, done_at),
				  confirmed_at = COALESCE($12, confirmed_at),
				  error_code = COALESCE($13, error_code),
				  error_text = COALESCE($14, error_text),
				  payment_out_sum = COALESCE($15, payment_out_sum)
			  WHERE order_id = $1 AND status = $2
			  RETURNING ` + orderColumns
	row := tx.QueryRowContext(ctx, query,
		orderID, string(from), string(to), now,
		upd.ServiceLink, upd.ServiceLinkAt, upd.OperatorID, upd.OperatorName, upd.ClaimedAt,
		upd.PaidAt, upd.DoneAt, upd.ConfirmedAt, upd.ErrorCode, upd.ErrorText, upd.PaymentOutSum)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		// CAS не сработал: заказа нет либо статус уже другой.
		var current string
		lookupErr := s.DB.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE order_id = $1`, orderID).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		if lookupErr != nil {
			return nil, fmt.Errorf("%s: %w", op, lookupErr)
		}
		return nil, fmt.Errorf("%w: expected %s, got %s", models.ErrStaleOrder, from, current)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	event := models.OrderEvent{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Trigger:    trigger,
		Note:       note,
		CreatedAt:  now,
	}
	if err := appendEvent(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}

func activeStatusArray() []string {
	statuses := make([]string, 0, len(models.ActiveStatuses))
	for _, status := range models.ActiveStatuses {
		statuses = append(statuses, string(status))
	}
	return statuses
}
